package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/ann82/havenline/router"
	"github.com/ann82/havenline/services"
	"github.com/ann82/havenline/session"
)

const initialGreeting = "Hello, you've reached the Haven support line. Everything you say here is confidential. How can I help you today?"

// App wires the HTTP edge to the core.
type App struct {
	cfg    Config
	mgr    *session.Manager
	router *router.Router
	hub    *services.Hub
	log    *zap.Logger
}

// edgeRequest is an inbound frame on the duplex channel: the recognized
// transcript so far plus the id of the response being requested.
type edgeRequest struct {
	ResponseID      int                   `json:"response_id"`
	Transcript      []edgeTranscriptEntry `json:"transcript"`
	InteractionType string                `json:"interaction_type"`
}

type edgeTranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// edgeResponse is an outbound frame: the text to speak and the end-call flag.
type edgeResponse struct {
	ResponseID      int    `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
}

// wsChannel adapts a websocket connection to the session.Channel contract.
// The session is the only writer, but sends race with the close path, so
// writes are serialized here.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) Send(requestID int, text string, endCall bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(edgeResponse{
		ResponseID:      requestID,
		Content:         text,
		ContentComplete: true,
		EndCall:         endCall,
	})
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

type registerCallRequest struct {
	AgentID                string `json:"agent_id"`
	AudioEncoding          string `json:"audio_encoding"`
	AudioWebsocketProtocol string `json:"audio_websocket_protocol"`
	SampleRate             int    `json:"sample_rate"`
}

type registerCallResponse struct {
	AgentID    string `json:"agent_id"`
	CallID     string `json:"call_id"`
	CallStatus string `json:"call_status"`
}

// TwilioWebhook answers an incoming call: register it with the realtime
// voice provider, create the session, and stream the audio to the provider.
func (a *App) TwilioWebhook(c *gin.Context) {
	agentID := c.Param("agent_id")
	from := c.PostForm("From")

	callInfo, err := a.registerProviderCall(agentID)
	if err != nil {
		a.log.Error("registering call with voice provider", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot handle call at the moment"})
		return
	}

	a.mgr.CreateSession(callInfo.CallID, from)

	stream := &twiml.VoiceStream{
		Url: "wss://api.retellai.com/audio-websocket/" + callInfo.CallID,
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	result, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot handle call at the moment"})
		return
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, result)
}

func (a *App) registerProviderCall(agentID string) (registerCallResponse, error) {
	reqBody, err := json.Marshal(registerCallRequest{
		AgentID:                agentID,
		AudioEncoding:          "mulaw",
		SampleRate:             8000,
		AudioWebsocketProtocol: "twilio",
	})
	if err != nil {
		return registerCallResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, "https://api.retellai.com/register-call", bytes.NewBuffer(reqBody))
	if err != nil {
		return registerCallResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.RetellAPIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return registerCallResponse{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return registerCallResponse{}, err
	}

	var response registerCallResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return registerCallResponse{}, err
	}
	return response, nil
}

// CallSocket is the duplex channel endpoint. The voice provider connects
// here once the call is registered and streams recognized utterances.
func (a *App) CallSocket(c *gin.Context) {
	callID := c.Param("call_id")
	if _, ok := a.mgr.Get(callID); !ok {
		a.log.Warn("connection attempt for unknown call", zap.String("call_id", callID))
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.Error("upgrading connection", zap.Error(err))
		return
	}

	ch := &wsChannel{conn: conn}
	if err := a.mgr.AttachChannel(callID, ch); err != nil {
		conn.Close()
		return
	}
	defer a.mgr.Cleanup(callID)

	if err := ch.Send(0, initialGreeting, false); err != nil {
		a.log.Warn("sending initial greeting", zap.String("call_id", callID), zap.Error(err))
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			a.log.Info("duplex channel closed", zap.String("call_id", callID), zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg edgeRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			a.log.Warn("unparseable frame", zap.String("call_id", callID), zap.Error(err))
			continue
		}

		if msg.InteractionType == "update_only" {
			a.mgr.Touch(callID)
			continue
		}

		text := lastUserUtterance(msg.Transcript)
		if text == "" {
			a.mgr.Touch(callID)
			continue
		}
		if err := a.mgr.HandleUtterance(c.Request.Context(), callID, msg.ResponseID, text); err != nil {
			a.log.Warn("utterance rejected", zap.String("call_id", callID), zap.Error(err))
		}
	}
}

func lastUserUtterance(transcript []edgeTranscriptEntry) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "user" {
			return transcript[i].Content
		}
	}
	return ""
}

// CallStatus receives lifecycle callbacks from the telephony edge.
func (a *App) CallStatus(c *gin.Context) {
	callID := c.Param("call_id")
	status := c.PostForm("CallStatus")
	if status == "" {
		status = c.Query("status")
	}
	if callID == "" || status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call id and status are required"})
		return
	}
	if err := a.mgr.HandleCallStatus(callID, status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats exposes the router's counters.
func (a *App) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, a.router.Stats())
}

// DashboardSocket subscribes an observer to live transcript updates for
// one call.
func (a *App) DashboardSocket(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.Error("upgrading dashboard connection", zap.Error(err))
		return
	}

	client := &services.Client{
		ID:     uuid.New().String(),
		Conn:   conn,
		CallID: callID,
		Send:   make(chan []byte, 16),
		Hub:    a.hub,
	}
	a.hub.Register <- client
	go client.WritePump()

	// Reader loop exists only to observe disconnect.
	go func() {
		defer func() { a.hub.Unregister <- client }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
