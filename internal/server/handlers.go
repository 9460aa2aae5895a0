package server

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"pixdesk/internal/intake"
	"pixdesk/internal/pix"
	"pixdesk/internal/sink"
)

// Intake session handlers

func (s *FiberServer) openIntakeHandler(c *fiber.Ctx) error {
	var req struct {
		OwnerID    string `json:"owner_id"`
		ChannelRef string `json:"channel_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.OwnerID == "" || req.ChannelRef == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Owner ID and channel ref are required",
		})
	}

	session, err := s.registry.Open(req.OwnerID, req.ChannelRef)
	if err != nil {
		var dup *intake.DuplicateSessionError
		if errors.As(err, &dup) {
			return c.Status(409).JSON(fiber.Map{
				"error":       "Owner already has an open session",
				"session_id":  dup.SessionID,
				"channel_ref": dup.ChannelRef,
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(201).JSON(session.Snapshot())
}

func (s *FiberServer) getIntakeHandler(c *fiber.Ctx) error {
	session, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(session.Snapshot())
}

func (s *FiberServer) typeSelectedHandler(c *fiber.Ctx) error {
	session, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	var ev intake.TypeSelected
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return writeResult(c, session.HandleTypeSelected(ev))
}

func (s *FiberServer) detailsSubmittedHandler(c *fiber.Ctx) error {
	session, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	var ev intake.DetailsSubmitted
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return writeResult(c, session.HandleDetailsSubmitted(ev))
}

func (s *FiberServer) imageReceivedHandler(c *fiber.Ctx) error {
	session, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	var req struct {
		ImageRef string `json:"image_ref"`
		Data     []byte `json:"data"` // base64 in transit
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Data) == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Image data is required",
		})
	}

	res := session.HandleImageReceived(c.Context(), intake.ImageReceived{
		ImageRef: req.ImageRef,
		Data:     req.Data,
	})
	return writeResult(c, res)
}

func (s *FiberServer) dropChannelHandler(c *fiber.Ctx) error {
	ref := c.Params("ref")
	if !s.registry.DropChannel(ref) {
		return c.Status(404).JSON(fiber.Map{
			"error": "No session on that channel",
		})
	}
	return c.JSON(fiber.Map{
		"channel_ref": ref,
		"message":     "Session discarded",
	})
}

// writeResult maps a session result onto an HTTP status: rejections are 400,
// transient sink failures 503 so callers know to retry.
func writeResult(c *fiber.Ctx, res intake.Result) error {
	if !res.OK {
		if res.Transient {
			return c.Status(503).JSON(res)
		}
		return c.Status(400).JSON(res)
	}
	return c.JSON(res)
}

// BR Code handlers

func (s *FiberServer) encodeBRCodeHandler(c *fiber.Ctx) error {
	var req struct {
		KeyType      string `json:"key_type"`
		Key          string `json:"key"`
		AmountCents  int64  `json:"amount_cents"`
		MerchantName string `json:"merchant_name"`
		MerchantCity string `json:"merchant_city"`
		TxID         string `json:"txid"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	keyType, ok := pix.ParseKeyType(req.KeyType)
	if !ok {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unknown key type: " + req.KeyType,
		})
	}

	key, err := pix.Validate(keyType, req.Key)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	code, err := pix.EncodeBRCode(pix.Payload{
		Key:          key,
		AmountCents:  req.AmountCents,
		MerchantName: req.MerchantName,
		MerchantCity: req.MerchantCity,
		TxID:         req.TxID,
	})
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"code":     code,
		"key_type": key.Type,
		"key":      key.Normalized,
	})
}

func (s *FiberServer) decodeBRCodeHandler(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Code is required",
		})
	}

	elems, err := pix.ParseBRCode(req.Code)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"elements": elems,
	})
}

// Submission review handlers

func (s *FiberServer) listSubmissionsHandler(c *fiber.Ctx) error {
	status := c.Query("status")
	limit := c.QueryInt("limit", 50)

	subs, err := s.store.List(c.Context(), status, limit)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Submission store unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"submissions": subs,
		"count":       len(subs),
	})
}

func (s *FiberServer) reviewSubmissionHandler(c *fiber.Ctx) error {
	var req struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	sub, err := s.store.Review(c.Context(), c.Params("id"), req.Approve, req.Reason)
	if err != nil {
		if errors.Is(err, sink.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Submission not found",
			})
		}
		return c.Status(503).JSON(fiber.Map{
			"error": "Submission store unavailable",
		})
	}

	return c.JSON(sub)
}

// WebSocket handler

func (s *FiberServer) noticeWebSocketHandler(conn *websocket.Conn) {
	// An empty owner_id subscribes to every owner's notices.
	ownerID := conn.Query("owner_id", "")

	log.Printf("[WS] New connection for owner: %q", ownerID)

	s.hub.RegisterClient(conn, ownerID)

	// Send the owner's current session, if any
	if ownerID != "" {
		if session, ok := s.registry.GetByOwner(ownerID); ok {
			stateJSON, _ := json.Marshal(map[string]interface{}{
				"type": "initial_state",
				"data": session.Snapshot(),
			})
			conn.WriteMessage(websocket.TextMessage, stateJSON)
		}
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for owner %q: %v", ownerID, err)
			s.hub.UnregisterClient(conn)
			break
		}

		if messageType == websocket.TextMessage {
			var clientMsg map[string]interface{}
			if err := json.Unmarshal(message, &clientMsg); err != nil {
				continue
			}

			msgType, ok := clientMsg["type"].(string)
			if !ok {
				continue
			}

			switch msgType {
			case "ping":
				pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
				conn.WriteMessage(websocket.TextMessage, pongJSON)
			}
		}
	}
}
