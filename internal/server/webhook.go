package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cropdoctor/internal/models"
	"cropdoctor/internal/notify"
)

// Inbound webhook payload, WhatsApp Cloud API shape.
type webhookEvent struct {
	Entry []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	From  string        `json:"from"`
	Type  string        `json:"type"`
	Image *imageContent `json:"image,omitempty"`
	Text  *textContent  `json:"text,omitempty"`
}

type imageContent struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}

type textContent struct {
	Body string `json:"body"`
}

// handleWebhookVerify answers the channel's subscription handshake: echo the
// challenge iff the mode and token match, otherwise 403.
func (s *Server) handleWebhookVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == s.cfg.WebhookVerifyToken {
		s.log.Info("Webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	s.log.Warn("Webhook verification failed")
	c.Status(http.StatusForbidden)
}

// handleWebhookEvent acknowledges the transport immediately and hands the
// event to a background goroutine. Downstream failures never surface to the
// caller.
func (s *Server) handleWebhookEvent(c *gin.Context) {
	var event webhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		s.log.Warn("Unparseable webhook body", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	c.Status(http.StatusOK)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.processEvent(ctx, event)
	}()
}

func (s *Server) processEvent(ctx context.Context, event webhookEvent) {
	if len(event.Entry) == 0 || len(event.Entry[0].Changes) == 0 {
		s.log.Warn("Invalid webhook payload")
		return
	}

	messages := event.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		s.log.Info("No messages in webhook")
		return
	}

	for _, message := range messages {
		farmerID := message.From
		s.log.Info("Processing message",
			zap.String("farmer", models.HashFarmerID(farmerID)[:8]),
			zap.String("type", message.Type))

		if err := s.store.UpsertInteraction(ctx, models.HashFarmerID(farmerID)); err != nil {
			s.log.Error("Error recording interaction", zap.Error(err))
		}

		switch message.Type {
		case "image":
			if message.Image == nil {
				s.log.Warn("Image message without image content")
				continue
			}
			// Some clients put the accompanying text next to the image
			// instead of in the caption.
			caption := message.Image.Caption
			if caption == "" && message.Text != nil {
				caption = message.Text.Body
			}
			s.handleImage(ctx, farmerID, message.Image.ID, caption)
		case "text":
			if message.Text == nil {
				continue
			}
			s.handleText(ctx, farmerID, message.Text.Body)
		default:
			// Other message kinds (audio, location, stickers) are ignored.
		}
	}
}

func (s *Server) handleImage(ctx context.Context, farmerID, mediaID, caption string) {
	if err := s.notifier.Send(ctx, farmerID, notify.MsgImageReceived); err != nil {
		s.log.Error("Error sending acknowledgment", zap.Error(err))
	}

	data, err := s.media.Fetch(ctx, mediaID)
	if err != nil {
		s.log.Error("Error fetching media", zap.Error(err), zap.String("media_id", mediaID))
		s.sendFailureNotice(ctx, farmerID)
		return
	}

	key := "images/" + uuid.New().String() + ".jpg"
	imageURL, err := s.blobs.Put(key, data)
	if err != nil {
		s.log.Error("Error storing image", zap.Error(err))
		s.sendFailureNotice(ctx, farmerID)
		return
	}
	s.log.Info("Image stored", zap.String("key", key))

	job := models.AnalysisJob{
		FarmerID:        farmerID,
		ImageURL:        imageURL,
		ImageStorageKey: key,
		CropHint:        ExtractCropHint(caption),
		UserMessage:     caption,
	}
	if err := s.producer.Enqueue(ctx, job); err != nil {
		s.log.Error("Error enqueueing job", zap.Error(err))
		s.sendFailureNotice(ctx, farmerID)
		return
	}
	s.log.Info("Job queued", zap.String("key", key))
}

func (s *Server) handleText(ctx context.Context, farmerID, body string) {
	text := strings.ToLower(body)

	var reply string
	if strings.Contains(text, "stop") || strings.Contains(text, "acha") {
		reply = notify.MsgUnsubscribed
	} else {
		reply = notify.MsgSendPhoto
	}
	if err := s.notifier.Send(ctx, farmerID, reply); err != nil {
		s.log.Error("Error sending reply", zap.Error(err))
	}
}

func (s *Server) sendFailureNotice(ctx context.Context, farmerID string) {
	if err := s.notifier.Send(ctx, farmerID, notify.MsgImageFailed); err != nil {
		s.log.Error("Error sending failure notice", zap.Error(err))
	}
}

// ExtractCropHint matches the caption against a small bilingual vocabulary to
// bias inference toward one crop.
func ExtractCropHint(text string) string {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "nyanya") || strings.Contains(lower, "tomato"):
		return "tomato"
	case strings.Contains(lower, "mahindi") || strings.Contains(lower, "maize") || strings.Contains(lower, "corn"):
		return "maize"
	case strings.Contains(lower, "muhogo") || strings.Contains(lower, "cassava"):
		return "cassava"
	}
	return ""
}
