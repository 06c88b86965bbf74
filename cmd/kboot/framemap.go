package main

import (
	"errors"

	"github.com/fogleman/gg"

	"gopherix/kernel"
	"gopherix/kernel/mm"
	"gopherix/kernel/proc"
)

// frameCensus is implemented by the physical frame allocator.
type frameCensus interface {
	ReferenceCount(addr uint32, large bool) (uint16, *kernel.Error)
	IsReserved(addr uint32, large bool) bool
}

type frameState uint8

const (
	frameFree frameState = iota
	frameReserved
	framePrivate
	frameShared
)

var frameColors = [...][3]float64{
	frameFree:     {0.95, 0.95, 0.95},
	frameReserved: {0.40, 0.40, 0.40},
	framePrivate:  {0.20, 0.60, 0.30},
	frameShared:   {0.90, 0.55, 0.10},
}

// Frame map geometry in pixels.
const (
	cellSize   = 12
	cellPitch  = cellSize + 2
	mapColumns = 32
	mapMargin  = 16
	labelSpace = 20
)

var errNoCensus = errors.New("frame allocator does not report frame states")

func classify(frames frameCensus, addr uint32, large bool) frameState {
	if frames.IsReserved(addr, large) {
		return frameReserved
	}

	refs, err := frames.ReferenceCount(addr, large)
	switch {
	case err != nil || refs == 0:
		return frameFree
	case refs == 1:
		return framePrivate
	default:
		return frameShared
	}
}

// censusFrames classifies every large frame of the machine and every frame
// of the fine pool.
func censusFrames(frames frameCensus, largeCount uint32) (large, fine []frameState) {
	large = make([]frameState, largeCount)
	for i := range large {
		large[i] = classify(frames, mm.LargeFrame(i).Address(), true)
	}

	fine = make([]frameState, mm.FinePerLarge)
	for i := range fine {
		fine[i] = classify(frames, mm.FineFrame(i).Address(), false)
	}
	return large, fine
}

func sectionRows(cells int) int {
	return (cells + mapColumns - 1) / mapColumns
}

// drawFrameMap renders one cell per frame, large frames first.
func drawFrameMap(large, fine []frameState) *gg.Context {
	width := 2*mapMargin + mapColumns*cellPitch
	height := 3*mapMargin + 2*labelSpace + (sectionRows(len(large))+sectionRows(len(fine)))*cellPitch

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	bottom := drawSection(dc, "4MB frames", large, mapMargin)
	drawSection(dc, "4KB frames", fine, bottom+mapMargin)
	return dc
}

// drawSection draws a labelled grid starting at top and returns the y
// coordinate below it.
func drawSection(dc *gg.Context, label string, states []frameState, top int) int {
	dc.SetRGB(0, 0, 0)
	dc.DrawString(label, mapMargin, float64(top+labelSpace-6))
	top += labelSpace

	for i, state := range states {
		x := mapMargin + (i%mapColumns)*cellPitch
		y := top + (i/mapColumns)*cellPitch
		c := frameColors[state]
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(float64(x), float64(y), cellSize, cellSize)
		dc.Fill()
	}

	return top + sectionRows(len(states))*cellPitch
}

// saveFrameMap writes a PNG picture of physical frame usage to path.
func saveFrameMap(k *proc.Kernel, path string) error {
	frames, ok := k.Frames().(frameCensus)
	if !ok {
		return errNoCensus
	}

	large, fine := censusFrames(frames, k.Memory().LargeFrames())
	return drawFrameMap(large, fine).SavePNG(path)
}
