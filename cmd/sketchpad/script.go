package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/emosketch/canvas"
	"github.com/hazyhaar/emosketch/sketch"
)

// Script is a list of drawings to replay.
//
//	viewport: {container_width: 640, window_height: 900}
//	drawings:
//	  - strokes:
//	      - [[10, 10], [60, 40], [120, 10]]
//	      - [[10, 80], [120, 80]]
//	    undo: 1
//	  - clear: true
//	    strokes:
//	      - [[0, 0], [499, 499]]
//	    touch: true
type Script struct {
	Viewport *Viewport `yaml:"viewport"`
	Drawings []Drawing `yaml:"drawings"`
}

// Viewport sizes the surface the way a browser page would.
type Viewport struct {
	ContainerWidth int `yaml:"container_width"`
	WindowHeight   int `yaml:"window_height"`
}

// Drawing is one submission: strokes, then undo steps, then submit.
type Drawing struct {
	Clear   bool           `yaml:"clear"`
	Strokes [][][2]float64 `yaml:"strokes"`
	Undo    int            `yaml:"undo"`
	Touch   bool           `yaml:"touch"`
}

// LoadScript reads and checks a YAML script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(s.Drawings) == 0 {
		return nil, fmt.Errorf("script %s: no drawings", path)
	}
	for i, d := range s.Drawings {
		if d.Undo < 0 {
			return nil, fmt.Errorf("drawings[%d]: undo must be >= 0", i)
		}
	}
	return &s, nil
}

// Replay feeds d into sess as pointer events. Each stroke is a down on its
// first point, a move per following point and an up on the last one.
func (d Drawing) Replay(sess *sketch.Session) {
	if d.Clear {
		sess.Clear()
	}
	src := canvas.SourceMouse
	if d.Touch {
		src = canvas.SourceTouch
	}
	for _, stroke := range d.Strokes {
		if len(stroke) == 0 {
			continue
		}
		ev := func(kind canvas.EventKind, p [2]float64) canvas.PointerEvent {
			return canvas.PointerEvent{Kind: kind, PointerID: 1, Source: src, ClientX: p[0], ClientY: p[1]}
		}
		sess.HandlePointer(ev(canvas.PointerDown, stroke[0]))
		for _, p := range stroke[1:] {
			sess.HandlePointer(ev(canvas.PointerMove, p))
		}
		sess.HandlePointer(ev(canvas.PointerUp, stroke[len(stroke)-1]))
	}
	for i := 0; i < d.Undo; i++ {
		if !sess.Undo() {
			break
		}
	}
}
