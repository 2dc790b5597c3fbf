package naming_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/fabricsim/naming"
)

var _ = Describe("Name", func() {
	It("should parse a hierarchical name", func() {
		name := naming.ParseName("Fabric.Xbar[2].InBuf[0][1]")

		Expect(name.Tokens).To(HaveLen(3))
		Expect(name.Tokens[0].ElemName).To(Equal("Fabric"))
		Expect(name.Tokens[1].ElemName).To(Equal("Xbar"))
		Expect(name.Tokens[1].Index).To(Equal([]int{2}))
		Expect(name.Tokens[2].Index).To(Equal([]int{0, 1}))
	})

	DescribeTable("valid names",
		func(name string) {
			Expect(func() { naming.MustBeValid(name) }).NotTo(Panic())
		},
		Entry("simple", "Fabric"),
		Entry("hierarchical", "Fabric.Xbar.OutBuf"),
		Entry("indexed", "Fabric.InBuf[3]"),
	)

	DescribeTable("invalid names",
		func(name string) {
			Expect(func() { naming.MustBeValid(name) }).To(Panic())
		},
		Entry("empty element", "Fabric..Xbar"),
		Entry("trailing dot", "Fabric.Xbar."),
		Entry("lower case", "Fabric.xbar"),
		Entry("underscore", "Fabric.In_Buf"),
		Entry("unmatched bracket", "Fabric.InBuf[3"),
	)

	It("should build names from parents", func() {
		Expect(naming.BuildName("", "Fabric")).To(Equal("Fabric"))
		Expect(naming.BuildName("Fabric", "Xbar")).To(Equal("Fabric.Xbar"))
		Expect(naming.BuildNameWithIndex("Fabric", "InBuf", 2)).
			To(Equal("Fabric.InBuf[2]"))
	})
})
