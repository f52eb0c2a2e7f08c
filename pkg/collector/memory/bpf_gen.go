//go:build linux
// +build linux

package memory

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -D__TARGET_ARCH_x86" -target bpfel alloc_events ../../../bpf/alloc_events.c -- -I../../../bpf/headers
