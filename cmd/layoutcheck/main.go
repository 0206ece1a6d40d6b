// layoutcheck prints sizeof/offsetof for every binary-layout-sensitive type
// in this module, the same way the teacher's cmd/offset_check/main.go
// verified its SHM wire structs matched their C++ counterparts byte-for-
// byte. Run: go run ./cmd/layoutcheck
package main

import (
	"fmt"
	"unsafe"

	"github.com/qorix-group/shmtrace/pkg/memres"
	"github.com/qorix-group/shmtrace/pkg/offsetptr"
	"github.com/qorix-group/shmtrace/pkg/ringbuffer"
)

func main() {
	var op offsetptr.OffsetPtr[ringbuffer.Element]
	fmt.Printf("sizeof(OffsetPtr[Element]) = %d\n", unsafe.Sizeof(op))

	var proxy memres.Proxy
	fmt.Printf("sizeof(Proxy) = %d\n", unsafe.Sizeof(proxy))
	fmt.Printf("offsetof(Proxy, ResourceID) = %d\n", unsafe.Offsetof(proxy.ResourceID))

	var el ringbuffer.Element
	fmt.Printf("sizeof(Element) = %d\n", unsafe.Sizeof(el))

	var gcid ringbuffer.GlobalContextID
	fmt.Printf("sizeof(GlobalContextID) = %d\n", unsafe.Sizeof(gcid))
	fmt.Printf("offsetof(GlobalContextID, ProducerID) = %d\n", unsafe.Offsetof(gcid.ProducerID))
	fmt.Printf("offsetof(GlobalContextID, ContextID) = %d\n", unsafe.Offsetof(gcid.ContextID))

	var stats ringbuffer.StatisticsBlock
	fmt.Printf("sizeof(StatisticsBlock) = %d\n", unsafe.Sizeof(stats))
	fmt.Printf("offsetof(StatisticsBlock, Consumer) = %d\n", unsafe.Offsetof(stats.Consumer))

	fmt.Printf("alignof(Element) = %d\n", unsafe.Alignof(el))
	fmt.Printf("alignof(GlobalContextID) = %d\n", unsafe.Alignof(gcid))
}
