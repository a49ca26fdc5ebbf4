package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ivlev/storyreel/internal/effects"
	"github.com/ivlev/storyreel/internal/playback"
	"github.com/ivlev/storyreel/internal/renderer"
	"github.com/ivlev/storyreel/internal/storyboard"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// controlMessage is what a player sends over the playback socket.
type controlMessage struct {
	// Type is one of time, play, pause, toggle, seek, skip, volume, mute,
	// captions or jump.
	Type  string  `json:"type"`
	Time  float64 `json:"time,omitempty"`
	Delta float64 `json:"delta,omitempty"`
	Value float64 `json:"value,omitempty"`
	Index int     `json:"index,omitempty"`
}

type stateMessage struct {
	Type    string         `json:"type"`
	State   playback.State `json:"state"`
	Markers []float64      `json:"markers"`
}

// frameMessage carries the preview of a newly active scene. Video visuals
// also point at the clip so the player can show it natively.
type frameMessage struct {
	Type       string `json:"type"`
	Scene      int    `json:"scene"`
	Background int    `json:"background"`
	Image      []byte `json:"image"`
	VisualURL  string `json:"visual_url,omitempty"`
	VisualKind string `json:"visual_kind,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.Server.AllowedOrigins))
	for _, o := range s.cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin] || allowed["*"]
		},
	}
}

// playback drives a Synchronizer from player messages and streams state and
// preview frames back.
func (s *Server) playback(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan interface{}, 16)
	go s.writePump(ctx, cancel, conn, out)

	send := func(msg interface{}) {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	}

	comp, err := renderer.NewCompositor(effects.Static{})
	if err != nil {
		send(errorMessage{Type: "error", Error: err.Error()})
		return
	}
	preview := playback.NewPreviewer(comp, s.bitmaps, s.cfg.Playback.PreviewSize, s.cfg.Export.Width, s.cfg.Export.Height)

	var scenes []storyboard.Scene
	render := func(st playback.State, scene storyboard.Scene) {
		img, err := preview.Frame(ctx, scenes, st.Active, st.Captions)
		if err != nil {
			send(errorMessage{Type: "error", Error: err.Error()})
			return
		}
		msg := frameMessage{Type: "frame", Scene: st.Active, Background: st.Background, Image: img}
		if scene.Visual.Usable() {
			msg.VisualURL = fmt.Sprintf("/api/v1/session/scenes/%d/visual", st.Active)
			msg.VisualKind = string(scene.Visual.Kind)
		}
		send(msg)
	}
	player := playback.NewSynchronizer(s.cfg.Playback, render, nil)

	var probedPath string
	var probed float64
	load := func() {
		snap := s.mgr.Snapshot()
		if snap.Media.Path != probedPath {
			probedPath, probed = snap.Media.Path, s.probeMedia(ctx, snap.Media.Path)
		}
		scenes = snap.Scenes
		player.SetScenes(scenes, timelineEnd(snap, probed, s.cfg.Export.TailSeconds))
	}
	load()
	sendState := func() {
		send(stateMessage{Type: "state", State: player.State(), Markers: player.Markers()})
	}
	sendState()

	events, unsubscribe := s.mgr.Subscribe()
	defer unsubscribe()

	msgs := make(chan controlMessage)
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var m controlMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			load()
			sendState()
		case m := <-msgs:
			if err := applyControl(player, m); err != nil {
				send(errorMessage{Type: "error", Error: err.Error()})
				continue
			}
			sendState()
		}
	}
}

func applyControl(p *playback.Synchronizer, m controlMessage) error {
	switch m.Type {
	case "time":
		p.OnTimeUpdate(m.Time)
	case "seek":
		p.Seek(m.Time)
	case "skip":
		if m.Delta == 0 {
			p.SkipForward()
		} else {
			p.Skip(m.Delta)
		}
	case "play":
		p.Play()
	case "pause":
		p.Pause()
	case "toggle":
		p.TogglePlay()
	case "volume":
		p.SetVolume(m.Value)
	case "mute":
		p.ToggleMute()
	case "captions":
		p.ToggleCaptions()
	case "jump":
		if !p.JumpToScene(m.Index) {
			return fmt.Errorf("%w: index %d", storyboard.ErrSceneNotFound, m.Index)
		}
	default:
		return fmt.Errorf("unknown control %q", m.Type)
	}
	return nil
}

func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan interface{}) {
	defer cancel()
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// probeMedia returns the lecture duration, or 0 when it cannot be probed.
func (s *Server) probeMedia(ctx context.Context, path string) float64 {
	if path == "" {
		return 0
	}
	d, err := s.probe(ctx, path)
	if err != nil {
		s.log.Warn("media probe failed", "path", path, "error", err)
		return 0
	}
	return d
}

// timelineEnd is the probed duration, or tail seconds past the last scene
// like export uses when the media length is unknown.
func timelineEnd(snap *storyboard.Session, probed, tail float64) float64 {
	if probed > 0 {
		return probed
	}
	if !snap.HasScenes() {
		return 0
	}
	return snap.Scenes[len(snap.Scenes)-1].StartTime + tail
}
