package overlay

import (
	"bytes"
	"testing"
)

func TestRenderPreservesFrameLength(t *testing.T) {
	c := New("REC")
	frame := make([]byte, 64*32*4)
	c.Render(frame, 64, 32)
	if len(frame) != 64*32*4 {
		t.Errorf("frame length changed to %d", len(frame))
	}
}

func TestRenderDrawsSomething(t *testing.T) {
	c := New("REC")
	frame := make([]byte, 128*64*4)
	before := make([]byte, len(frame))
	copy(before, frame)

	c.Render(frame, 128, 64)
	if bytes.Equal(frame, before) {
		t.Error("Render left the frame unchanged")
	}
}

func TestRenderSkipsTinyFrames(t *testing.T) {
	c := New("a very long caption that cannot possibly fit")
	frame := make([]byte, 4*2*4)
	before := make([]byte, len(frame))
	copy(before, frame)

	c.Render(frame, 4, 2)
	if !bytes.Equal(frame, before) {
		t.Error("Render modified a frame too small for the caption")
	}
}

func TestRenderEmptyTextIsNoop(t *testing.T) {
	c := New("")
	frame := make([]byte, 64*32*4)
	before := make([]byte, len(frame))
	copy(before, frame)

	c.Render(frame, 64, 32)
	if !bytes.Equal(frame, before) {
		t.Error("Render with empty text modified the frame")
	}
}

func TestRenderWrongLengthIsNoop(t *testing.T) {
	c := New("REC")
	frame := make([]byte, 10)
	before := make([]byte, len(frame))
	copy(before, frame)

	c.Render(frame, 64, 32)
	if !bytes.Equal(frame, before) {
		t.Error("Render modified a mis-sized buffer")
	}
}

func TestSetText(t *testing.T) {
	c := New("one")
	c.SetText("two")

	frame := make([]byte, 128*64*4)
	c.Render(frame, 128, 64)

	allZero := true
	for _, b := range frame {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("Render after SetText left the frame unchanged")
	}
}
