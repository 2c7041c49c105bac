//go:build nogpu

// Package gpu is empty in nogpu builds; schedulers build indices on the CPU.
package gpu
