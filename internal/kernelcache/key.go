package kernelcache

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ConfigKey identifies a Kernel cache entry.
type ConfigKey struct {
	Algorithm     string
	NetworkConfig string
}

// Hash combines both components in order. Each component is length
// prefixed so moving bytes across the boundary changes the hash.
func (k ConfigKey) Hash() uint64 {
	return combine(k.Algorithm, k.NetworkConfig)
}

// String is an unambiguous encoding used to key in-flight builds.
func (k ConfigKey) String() string {
	return encode(k.Algorithm, k.NetworkConfig)
}

// ProgramKey identifies a compiled Program: source name plus compiler
// parameters.
type ProgramKey struct {
	Name   string
	Params string
}

func (k ProgramKey) Hash() uint64 {
	return combine(k.Name, k.Params)
}

func (k ProgramKey) String() string {
	return encode(k.Name, k.Params)
}

func combine(a, b string) uint64 {
	var n [8]byte
	d := xxhash.New()
	binary.LittleEndian.PutUint64(n[:], uint64(len(a)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(a)
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(b)
	return d.Sum64()
}

func encode(a, b string) string {
	return strconv.Itoa(len(a)) + ":" + a + b
}
