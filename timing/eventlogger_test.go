package timing_test

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/fabricsim/timing"
)

type namedHandler struct {
	recordingHandler
}

func (h namedHandler) Name() string {
	return "Fabric.Element"
}

var _ = Describe("EventLogger", func() {
	var (
		engine *timing.SerialEngine
		buf    bytes.Buffer
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		buf.Reset()
		engine.AcceptHook(timing.NewEventLogger(log.New(&buf, "", 0)))
	})

	It("should log the tick and the handling element", func() {
		var timestamps []timing.VTimeInTick
		handler := namedHandler{
			recordingHandler{timestamps: &timestamps}}

		engine.Schedule(timing.NewEventBase(3, handler))

		Expect(engine.Run()).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("3, "))
		Expect(buf.String()).To(ContainSubstring("-> Fabric.Element"))
	})

	It("should log events whose handler carries no name", func() {
		var timestamps []timing.VTimeInTick
		handler := recordingHandler{timestamps: &timestamps}

		engine.Schedule(timing.NewEventBase(1, handler))
		engine.Schedule(timing.NewEventBase(2, handler))

		Expect(engine.Run()).To(Succeed())

		lines := bytes.Count(buf.Bytes(), []byte("\n"))
		Expect(lines).To(Equal(2))
		Expect(buf.String()).To(ContainSubstring("1, "))
		Expect(buf.String()).To(ContainSubstring("2, "))
	})
})
