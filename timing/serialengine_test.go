package timing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fabricsim/timing"
)

type recordingHandler struct {
	timestamps *[]timing.VTimeInTick
	labels     *[]string
	label      string
}

func (h recordingHandler) Handle(e timing.Event) error {
	*h.timestamps = append(*h.timestamps, e.Time())

	if h.labels != nil {
		*h.labels = append(*h.labels, h.label)
	}

	return nil
}

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *timing.SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = timing.NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should handle events in time order", func() {
		var timestamps []timing.VTimeInTick
		handler := recordingHandler{timestamps: &timestamps}

		engine.Schedule(timing.NewEventBase(3, handler))
		engine.Schedule(timing.NewEventBase(1, handler))
		engine.Schedule(timing.NewEventBase(2, handler))

		Expect(engine.Run()).To(Succeed())
		Expect(timestamps).To(Equal(
			[]timing.VTimeInTick{1, 2, 3}))
		Expect(engine.CurrentTime()).To(Equal(timing.VTimeInTick(3)))
	})

	It("should handle same-tick events in scheduling order", func() {
		var timestamps []timing.VTimeInTick
		var labels []string

		a := recordingHandler{
			timestamps: &timestamps, labels: &labels, label: "a"}
		b := recordingHandler{
			timestamps: &timestamps, labels: &labels, label: "b"}
		c := recordingHandler{
			timestamps: &timestamps, labels: &labels, label: "c"}

		engine.Schedule(timing.NewEventBase(5, a))
		engine.Schedule(timing.NewEventBase(5, b))
		engine.Schedule(timing.NewEventBase(5, c))

		Expect(engine.Run()).To(Succeed())
		Expect(labels).To(Equal([]string{"a", "b", "c"}))
	})

	It("should handle secondary events after same-tick primary events",
		func() {
			var timestamps []timing.VTimeInTick
			var labels []string

			primary := recordingHandler{
				timestamps: &timestamps, labels: &labels, label: "primary"}
			secondary := recordingHandler{
				timestamps: &timestamps, labels: &labels, label: "secondary"}

			secondaryEvt := timing.NewEventBase(5, secondary)
			secondaryEvt.MakeSecondary()

			engine.Schedule(secondaryEvt)
			engine.Schedule(timing.NewEventBase(5, primary))

			Expect(engine.Run()).To(Succeed())
			Expect(labels).To(Equal([]string{"primary", "secondary"}))
		})

	It("should let a handler schedule follow-up events", func() {
		handler := NewMockHandler(mockCtrl)

		first := timing.NewEventBase(1, handler)
		second := timing.NewEventBase(2, handler)

		handler.EXPECT().Handle(first).DoAndReturn(
			func(timing.Event) error {
				engine.Schedule(second)
				return nil
			})
		handler.EXPECT().Handle(second).Return(nil)

		engine.Schedule(first)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(timing.VTimeInTick(2)))
	})

	It("should panic when scheduling into the past", func() {
		handler := NewMockHandler(mockCtrl)

		evt := timing.NewEventBase(5, handler)
		handler.EXPECT().Handle(evt).DoAndReturn(
			func(timing.Event) error {
				engine.Schedule(timing.NewEventBase(2, handler))
				return nil
			})

		engine.Schedule(evt)

		Expect(func() {
			_ = engine.Run()
		}).To(Panic())
	})

	It("should call the simulation end handlers on Finished", func() {
		endHandler := &endRecorder{}
		engine.RegisterSimulationEndHandler(endHandler)

		var timestamps []timing.VTimeInTick
		engine.Schedule(timing.NewEventBase(
			7, recordingHandler{timestamps: &timestamps}))

		Expect(engine.Run()).To(Succeed())
		engine.Finished()

		Expect(endHandler.calledAt).To(Equal(timing.VTimeInTick(7)))
	})
})

type endRecorder struct {
	calledAt timing.VTimeInTick
}

func (r *endRecorder) SimulationEnded(now timing.VTimeInTick) {
	r.calledAt = now
}
