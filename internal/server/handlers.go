package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeongseonghan/audio-modem/internal/audio"
	"github.com/jeongseonghan/audio-modem/internal/config"
	"github.com/jeongseonghan/audio-modem/internal/metrics"
	"github.com/jeongseonghan/audio-modem/internal/modem"
	"github.com/jeongseonghan/audio-modem/internal/protocol"
	"github.com/jeongseonghan/audio-modem/internal/store"
	"github.com/jeongseonghan/audio-modem/internal/stream"
)

// Handlers holds the HTTP API handlers.
type Handlers struct {
	session    *protocol.Session
	wsHub      *WSHub
	uploadDir  string
	receiveDir string
	metrics    *metrics.Modem
	arq        config.ModemConfig
	mu         sync.Mutex

	streamAudio *audio.AudioIO
	streaming   bool
}

// statusForErr maps an ARQ-path failure to the WebSocket status string
// a front end should show: a cancelled Transport surfaces as the
// user-requested "aborted" outcome (spec §7) rather than a generic
// "error".
func statusForErr(err error) string {
	if errors.Is(err, protocol.ErrCancelled) {
		return "aborted"
	}
	return "error"
}

// resolveRequestedScheme maps a front-end modulation name to its full
// scheme (modulation, OFDM profile, repetition factor).
func resolveRequestedScheme(name string) (modem.SchemeParams, error) {
	scheme := modem.ModulationScheme(strings.ToUpper(name))
	if scheme == "" {
		scheme = modem.Scheme16QAM
	}
	return modem.ResolveScheme(scheme)
}

// NewHandlers creates new API handlers.
func NewHandlers(uploadDir, receiveDir string) *Handlers {
	return NewHandlersWithMetrics(uploadDir, receiveDir, nil)
}

// NewHandlersWithMetrics creates API handlers that also record
// streaming-receiver and ARQ outcomes to m. m may be nil.
func NewHandlersWithMetrics(uploadDir, receiveDir string, m *metrics.Modem) *Handlers {
	return &Handlers{
		wsHub:      NewWSHub(),
		uploadDir:  uploadDir,
		receiveDir: receiveDir,
		metrics:    m,
	}
}

// NewHandlersWithConfig creates API handlers wired from a full
// ModemConfig, so every ARQ session it opens honors UseReedSolomon and
// the configured ACK timeout / turnaround delay / retry budget the
// same way cmd/server's flag overlay honors the server address.
func NewHandlersWithConfig(cfg config.ModemConfig, m *metrics.Modem) *Handlers {
	h := NewHandlersWithMetrics(cfg.Server.UploadDir, cfg.Server.ReceiveDir, m)
	h.arq = cfg
	return h
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Read messages (for potential commands from client)
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

// HandleUpload handles file upload for sending.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form (max 10MB)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Parse form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("Get file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Save to upload directory
	os.MkdirAll(h.uploadDir, 0755)
	outPath := filepath.Join(h.uploadDir, header.Filename)
	outFile, err := os.Create(outPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Create file: %v", err), http.StatusInternalServerError)
		return
	}
	defer outFile.Close()

	written, err := io.Copy(outFile, file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Save file: %v", err), http.StatusInternalServerError)
		return
	}

	h.wsHub.BroadcastLog("info", fmt.Sprintf("File uploaded: %s (%d bytes)", header.Filename, written))

	json.NewEncoder(w).Encode(map[string]interface{}{
		"filename": header.Filename,
		"size":     written,
		"status":   "uploaded",
	})
}

// HandleSend initiates file sending.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Filename   string `json:"filename"`
		Modulation string `json:"modulation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(h.uploadDir, req.Filename)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	scheme, err := resolveRequestedScheme(req.Modulation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Start sending in background. h.mu only guards the h.session
	// assignment, not the transfer itself -- HandleReceiveStop needs to
	// reach session.Transport().Cancel() while a transfer is in flight.
	go func() {
		session, err := protocol.NewSession(scheme, protocol.ModeSend, h.arq.UseReedSolomon)
		if err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Session create failed: %v", err))
			return
		}
		session.ConfigureARQ(h.arq.ARQ.ACKTimeout, h.arq.ARQ.TurnAround, h.arq.ARQ.MaxRetries)
		if h.metrics != nil {
			session.SetMetrics(h.metrics)
		}
		h.mu.Lock()
		h.session = session
		h.mu.Unlock()
		defer session.Close()

		if err := session.Open(); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio open failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("connecting", "Performing handshake...")

		// Handshake
		if err := session.Transport().Handshake(); err != nil {
			h.wsHub.BroadcastStatus(statusForErr(err), fmt.Sprintf("Handshake failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("transferring", "Sending file...")

		// Send file
		sender := protocol.NewFileSenderForScheme(session.Transport(), scheme)
		sender.SetProgressCallback(func(sent, total int64, status string) {
			progress := float64(sent) / float64(total)
			h.wsHub.BroadcastProgress("transferring", status, progress, sent, total)
		})

		if err := sender.SendFile(filePath); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Send failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("completed", "File sent successfully!")
	}()

	json.NewEncoder(w).Encode(map[string]string{
		"status": "sending",
	})
}

// HandleReceiveStart starts receiving mode.
func (h *Handlers) HandleReceiveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Modulation string `json:"modulation"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	scheme, err := resolveRequestedScheme(req.Modulation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// h.mu only guards the h.session assignment, not the transfer itself
	// -- HandleReceiveStop needs to reach session.Transport().Cancel()
	// while a receive is in flight.
	go func() {
		session, err := protocol.NewSession(scheme, protocol.ModeReceive, h.arq.UseReedSolomon)
		if err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Session create failed: %v", err))
			return
		}
		session.ConfigureARQ(h.arq.ARQ.ACKTimeout, h.arq.ARQ.TurnAround, h.arq.ARQ.MaxRetries)
		if h.metrics != nil {
			session.SetMetrics(h.metrics)
		}
		h.mu.Lock()
		h.session = session
		h.mu.Unlock()
		defer session.Close()

		if err := session.Open(); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio open failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("connecting", "Waiting for handshake...")

		// Wait for handshake
		if err := session.Transport().WaitForHandshake(30 * 1000000000); err != nil { // 30 seconds
			h.wsHub.BroadcastStatus(statusForErr(err), fmt.Sprintf("Handshake failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("transferring", "Receiving file...")

		// Receive file
		os.MkdirAll(h.receiveDir, 0755)
		receiver := protocol.NewFileReceiver(session.Transport(), h.receiveDir)
		receiver.SetProgressCallback(func(received, total int64, status string) {
			progress := float64(received) / float64(total)
			h.wsHub.BroadcastProgress("transferring", status, progress, received, total)
		})

		meta, err := receiver.ReceiveFile(60 * 1000000000) // 60 second timeout
		if err != nil {
			h.wsHub.BroadcastStatus(statusForErr(err), fmt.Sprintf("Receive failed: %v", err))
			return
		}

		h.wsHub.BroadcastStatus("completed", fmt.Sprintf("File received: %s (%d bytes)", meta.Filename, meta.Size))
	}()

	json.NewEncoder(w).Encode(map[string]string{
		"status": "receiving",
	})
}

// HandleReceiveStop cancels an in-flight ARQ receive (spec §7
// Cancelled, user stop). Unlike the streaming path's stop, there's no
// partial-assembly to surface here -- Transport.Cancel just unblocks
// whichever of WaitForHandshake/ReceiveFrame the receive goroutine is
// parked in, which then returns a wrapped ErrCancelled, picked up by
// statusForErr as an "aborted" WebSocket status before the goroutine
// exits.
func (h *Handlers) HandleReceiveStop(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	session := h.session
	h.mu.Unlock()

	if session != nil {
		session.Transport().Cancel()
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelling"})
}

// HandleStatus returns current session status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := "idle"
	if h.session != nil {
		status = "active"
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
	})
}

// HandleDevices lists available audio devices, flagging which ones
// default to a sample rate compatible with the configured OFDM
// profile.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	scheme, err := h.arq.Scheme()
	if err != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	devices, err := audio.ListDevicesForProfile(scheme.Profile)
	if err != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"devices":   devices,
		"hasInput":  audio.HasInputDevice(),
		"hasOutput": audio.HasOutputDevice(),
	})
}

// HandleDownload serves received files for download.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimPrefix(r.URL.Path, "/api/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(h.receiveDir, filename)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, filePath)
}

// HandleSendStreaming plays a previously uploaded file as a simplex
// OFDM burst (spec §4.J), bypassing ARQ entirely -- the best-effort
// path for one-shot broadcasts with no return channel.
func (h *Handlers) HandleSendStreaming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Filename   string `json:"filename"`
		Modulation string `json:"modulation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(h.uploadDir, req.Filename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Read file: %v", err), http.StatusNotFound)
		return
	}

	scheme, err := resolveRequestedScheme(req.Modulation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		audioIO := audio.NewAudioIOWithBufferSize(scheme.Profile.SymbolLen())
		if err := audioIO.OpenOutput(); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio open failed: %v", err))
			return
		}
		defer audioIO.Close()
		if err := audioIO.StartOutput(); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio start failed: %v", err))
			return
		}
		defer audioIO.StopOutput()

		sender := stream.NewSender(scheme, audioIO)
		sender.OnProgress = func(sent, total int) {
			h.wsHub.BroadcastProgress("transferring", fmt.Sprintf("Sent frame %d/%d", sent, total),
				float64(sent)/float64(total), int64(sent), int64(total))
		}

		h.wsHub.BroadcastStatus("transferring", "Broadcasting file...")
		if err := sender.SendFile(filepath.Base(filePath), data); err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Send failed: %v", err))
			return
		}
		h.wsHub.BroadcastStatus("completed", "Broadcast complete!")
	}()

	json.NewEncoder(w).Encode(map[string]string{"status": "sending"})
}

// HandleReceiveStreamingStart begins free-running preamble-hunting
// reception of a simplex OFDM burst (spec §4.I). Unlike
// HandleReceiveStart (the ARQ path), this never turns around to send
// an ACK -- it just keeps listening until a file completes or the
// caller stops it.
func (h *Handlers) HandleReceiveStreamingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Modulation string `json:"modulation"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	scheme, err := resolveRequestedScheme(req.Modulation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.streaming {
		h.mu.Unlock()
		http.Error(w, "Already receiving", http.StatusConflict)
		return
	}
	h.streaming = true
	h.mu.Unlock()

	go h.runStreamingReceive(scheme)

	json.NewEncoder(w).Encode(map[string]string{"status": "receiving"})
}

// HandleReceiveStreamingStop flips the shared stop flag observed at
// block boundaries (spec §5's cancellation contract): in-flight
// symbol synthesis and the current frame's processing complete before
// the pipeline tears down.
func (h *Handlers) HandleReceiveStreamingStop(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.streaming = false
	audioIO := h.streamAudio
	h.mu.Unlock()

	if audioIO != nil {
		audioIO.StopInput()
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

func (h *Handlers) runStreamingReceive(scheme modem.SchemeParams) {
	defer func() {
		h.mu.Lock()
		h.streaming = false
		h.streamAudio = nil
		h.mu.Unlock()
	}()

	chunkDir := filepath.Join(h.receiveDir, ".chunks")
	chunkStore, err := store.NewDiskChunkStore(chunkDir)
	if err != nil {
		h.wsHub.BroadcastStatus("error", fmt.Sprintf("Chunk store init failed: %v", err))
		return
	}
	defer chunkStore.Close()

	events := stream.ReceiverEvents{
		OnMetadata: func(meta *protocol.ChunkMetadata) {
			h.wsHub.BroadcastStatus("transferring", fmt.Sprintf("Receiving %s (%d chunks)", meta.Name, meta.TotalChunks))
			h.wsHub.BroadcastMetadata(meta.Name, meta.TotalChunks, meta.TotalFileSize)
		},
		OnChunk: func(seqNum uint32, ok bool) {
			h.wsHub.BroadcastChunk(seqNum, ok)
		},
		OnComplete: func(file []byte, name string) {
			os.MkdirAll(h.receiveDir, 0o755)
			outPath := filepath.Join(h.receiveDir, name)
			if err := os.WriteFile(outPath, file, 0o644); err != nil {
				h.wsHub.BroadcastStatus("error", fmt.Sprintf("Write received file failed: %v", err))
				return
			}
			h.wsHub.BroadcastStatus("completed", fmt.Sprintf("File received: %s (%d bytes)", name, len(file)))
		},
		OnFrameError: func(err error) {
			h.wsHub.BroadcastLog("warn", fmt.Sprintf("frame error: %v", err))
		},
	}

	receiver := stream.NewStreamingReceiver(scheme.Mod, scheme.Profile, scheme.Repetition, chunkStore, events)
	if h.metrics != nil {
		receiver.Metrics = h.metrics
	}

	audioIO := audio.NewAudioIOWithBufferSize(scheme.Profile.SymbolLen())
	if err := audioIO.OpenInput(); err != nil {
		h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio open failed: %v", err))
		return
	}
	defer audioIO.Close()
	if err := audioIO.StartInput(); err != nil {
		h.wsHub.BroadcastStatus("error", fmt.Sprintf("Audio start failed: %v", err))
		return
	}
	defer audioIO.StopInput()

	h.mu.Lock()
	h.streamAudio = audioIO
	h.mu.Unlock()

	h.wsHub.BroadcastStatus("connecting", "Listening for preamble...")

	for {
		h.mu.Lock()
		stop := !h.streaming
		h.mu.Unlock()
		if stop {
			reportStreamingStop(h.wsHub, receiver.Assembler(), h.receiveDir)
			break
		}

		samples32, err := audioIO.Read()
		if err != nil {
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Read audio: %v", err))
			return
		}
		receiver.Feed(modem.Float32ToSamples(samples32))
	}
}

// reportStreamingStop surfaces the session outcome a user-requested
// stop leaves behind (spec §7): a transfer that already finished needs
// no further announcement, one that never saw a METADATA frame is a
// bare Aborted, and anything in between is a Partial carrying what the
// assembler actually has, pulled via Assembler().Assemble()/.Missing()
// rather than dropped on the floor.
func reportStreamingStop(hub *WSHub, assembler *stream.ChunkAssembler, receiveDir string) {
	if assembler.Complete() {
		return
	}
	if assembler.TotalChunks() == 0 {
		hub.BroadcastStatus("aborted", "Receive stopped before any transfer started")
		return
	}

	hub.BroadcastStatus("partial", fmt.Sprintf("Receive stopped: %d/%d chunks", assembler.ReceivedCount(), assembler.TotalChunks()))
	hub.BroadcastPartial(assembler.Name(), assembler.ReceivedCount(), assembler.TotalChunks(), assembler.Missing())

	partial, err := assembler.Assemble()
	if err != nil {
		hub.BroadcastLog("warn", fmt.Sprintf("partial assembly failed: %v", err))
		return
	}
	os.MkdirAll(receiveDir, 0o755)
	outPath := filepath.Join(receiveDir, assembler.Name()+".partial")
	if err := os.WriteFile(outPath, partial, 0o644); err != nil {
		hub.BroadcastLog("warn", fmt.Sprintf("write partial file failed: %v", err))
	}
}
