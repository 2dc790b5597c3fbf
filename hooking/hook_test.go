package hooking_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/fabricsim/hooking"
)

type recordingHook struct {
	ctxs []hooking.HookCtx
}

func (h *recordingHook) Func(ctx hooking.HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

var _ = Describe("HookableBase", func() {
	var (
		domain *hooking.HookableBase
		pos    *hooking.HookPos
	)

	BeforeEach(func() {
		domain = hooking.NewHookableBase()
		pos = &hooking.HookPos{Name: "SomePos"}
	})

	It("should register hooks", func() {
		hook := &recordingHook{}

		domain.AcceptHook(hook)

		Expect(domain.NumHooks()).To(Equal(1))
		Expect(domain.Hooks()).To(HaveExactElements(hooking.Hook(hook)))
	})

	It("should panic on a duplicated hook", func() {
		hook := &recordingHook{}
		domain.AcceptHook(hook)

		Expect(func() { domain.AcceptHook(hook) }).To(Panic())
	})

	It("should invoke every hook with the context", func() {
		hook1 := &recordingHook{}
		hook2 := &recordingHook{}
		domain.AcceptHook(hook1)
		domain.AcceptHook(hook2)

		item := "item"
		domain.InvokeHook(hooking.HookCtx{
			Domain: domain,
			Pos:    pos,
			Item:   item,
		})

		Expect(hook1.ctxs).To(HaveLen(1))
		Expect(hook2.ctxs).To(HaveLen(1))
		Expect(hook1.ctxs[0].Pos).To(BeIdenticalTo(pos))
		Expect(hook1.ctxs[0].Item).To(Equal(item))
	})
})
