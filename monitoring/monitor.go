// Package monitoring turns a running simulation into a small web server so
// the state of the fabric can be inspected and controlled from outside.
package monitoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	// Enable profiling.
	_ "net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/fabricsim/bwmonitor"
	"github.com/sarchlab/fabricsim/idgen"
	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
)

// Monitor exposes a simulation over HTTP, allowing external inspection and
// control of the engine, the fabric elements, and the traffic counters.
type Monitor struct {
	engine     timing.Engine
	elements   []naming.Named
	buffers    []*sim.Buffer
	counters   []*bwmonitor.Counter
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor server.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that drives the simulation.
func (m *Monitor) RegisterEngine(e timing.Engine) {
	m.engine = e
}

// RegisterElement registers a fabric element to be monitored. Buffers are
// additionally tracked for occupancy reporting.
func (m *Monitor) RegisterElement(e naming.Named) {
	m.elements = append(m.elements, e)

	if b, ok := e.(*sim.Buffer); ok {
		m.buffers = append(m.buffers, b)
	}
}

// RegisterCounter registers a traffic counter for bandwidth reporting.
func (m *Monitor) RegisterCounter(c *bwmonitor.Counter) {
	m.counters = append(m.counters, c)
}

// CreateProgressBar creates a new progress bar shown on the monitor.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:    idgen.GetGenerator().Generate(),
		Name:  name,
		Total: total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the monitor.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// StartServer starts serving the monitoring API.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run", m.run)
	r.HandleFunc("/api/list_elements", m.listElements)
	r.HandleFunc("/api/element/{name}", m.listElementDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/buffers", m.listBuffers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/traffic", m.reportTraffic)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	fmt.Fprintf(
		os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%d}", m.engine.CurrentTime())
}

func (m *Monitor) run(_ http.ResponseWriter, _ *http.Request) {
	go func() {
		err := m.engine.Run()
		if err != nil {
			panic(err)
		}
	}()
}

func (m *Monitor) listElements(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, e := range m.elements {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "%q", e.Name())
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) listElementDetails(
	w http.ResponseWriter,
	r *http.Request,
) {
	name := mux.Vars(r)["name"]

	element := m.findElementOr404(w, name)
	if element == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(element)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	ElementName string `json:"element_name,omitempty"`
	FieldName   string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	dieOnErr(err)

	fields := strings.Split(req.FieldName, ".")

	element := m.findElementOr404(w, req.ElementName)
	if element == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(element)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(fields)
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.buffersParseParams(r)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	sorted := m.sortAndSelectBuffers(sortMethod, limit, offset)

	fmt.Fprint(w, "[")
	for i, b := range sorted {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "{\"buffer\":%q,\"level\":%d,\"cap\":%d}",
			b.Name(), b.OccupiedSlots(), b.Capacity())
	}
	fmt.Fprint(w, "]")
}

func (*Monitor) buffersParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}
	if sortMethod != "level" && sortMethod != "percent" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limit, err = strconv.Atoi(limitStr)
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offset, err = strconv.Atoi(offsetStr)
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func bufferPercent(b *sim.Buffer) float64 {
	return float64(b.OccupiedSlots()) / float64(b.Capacity())
}

func (m *Monitor) sortAndSelectBuffers(
	sortMethod string,
	limit, offset int,
) []*sim.Buffer {
	sorted := make([]*sim.Buffer, len(m.buffers))
	copy(sorted, m.buffers)

	switch sortMethod {
	case "level":
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].OccupiedSlots() != sorted[j].OccupiedSlots() {
				return sorted[i].OccupiedSlots() > sorted[j].OccupiedSlots()
			}

			return bufferPercent(sorted[i]) > bufferPercent(sorted[j])
		})
	case "percent":
		sort.Slice(sorted, func(i, j int) bool {
			if bufferPercent(sorted[i]) != bufferPercent(sorted[j]) {
				return bufferPercent(sorted[i]) > bufferPercent(sorted[j])
			}

			return sorted[i].OccupiedSlots() > sorted[j].OccupiedSlots()
		})
	default:
		panic("Invalid sort method " + sortMethod)
	}

	if offset > len(sorted) {
		offset = len(sorted)
	}
	sorted = sorted[offset:]

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	return sorted
}

func (m *Monitor) findElementOr404(
	w http.ResponseWriter,
	name string,
) naming.Named {
	var element naming.Named
	for _, e := range m.elements {
		if e.Name() == name {
			element = e
		}
	}

	if element == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Element not found"))
		dieOnErr(err)
	}

	return element
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bytes, err := json.Marshal(m.progressBars)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type trafficRsp struct {
	Counter     string  `json:"counter"`
	Packets     int64   `json:"packets"`
	TotalBits   int64   `json:"total_bits"`
	BitsPerTick float64 `json:"bits_per_tick"`
}

func (m *Monitor) reportTraffic(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]trafficRsp, 0, len(m.counters))

	for _, c := range m.counters {
		rsp = append(rsp, trafficRsp{
			Counter:     c.Name(),
			Packets:     c.TotalPackets(),
			TotalBits:   c.TotalBits(),
			BitsPerTick: c.AverageBandwidth(),
		})
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
