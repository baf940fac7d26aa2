package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // App bundle ID
	Production bool   // Use production environment
}

// ErrDeviceGone means APNs will never deliver to the token again.
var ErrDeviceGone = errors.New("APNs device token no longer valid")

type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends push notifications via Apple Push Notification service
type APNsClient struct {
	client   pusher
	bundleID string
	logger   *log.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil when APNs is not configured.
func NewAPNsClient(cfg APNsConfig, logger *log.Logger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Println("APNs: missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	var client *apns2.Client
	if cfg.Production {
		client = apns2.NewTokenClient(authToken).Production()
	} else {
		client = apns2.NewTokenClient(authToken).Development()
	}

	logger.Printf("APNs: client initialized (production=%v, bundle=%s)", cfg.Production, cfg.BundleID)

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		logger:   logger,
	}, nil
}

// SessionSummary describes a finished interview session.
type SessionSummary struct {
	SessionID   string
	InterviewID string
	Title       string
	Phase       string
	Answers     int
	Duration    time.Duration
	CostCents   int
	Error       string
}

// SendInterviewCompleted tells the interview owner that a respondent finished.
func (c *APNsClient) SendInterviewCompleted(deviceToken string, s SessionSummary) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle(fmt.Sprintf("Interview finished: %s", s.Title)).
		AlertBody(fmt.Sprintf("%d answers in %s", s.Answers, s.Duration.Round(time.Second))).
		Sound("default").
		Custom("session_id", s.SessionID).
		Custom("interview_id", s.InterviewID)

	return c.push(deviceToken, p, 24*time.Hour, "interview notification")
}

// SendTestNotification sends a test notification
func (c *APNsClient) SendTestNotification(deviceToken, message string) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle("Interviewer Test").
		AlertBody(message).
		Sound("default")

	return c.push(deviceToken, p, time.Hour, "test notification")
}

func (c *APNsClient) push(deviceToken string, p *payload.Payload, ttl time.Duration, what string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(ttl),
	}

	res, err := c.client.Push(notification)
	if err != nil {
		c.logger.Printf("APNs: failed to send %s: %v", what, err)
		return err
	}

	if res.StatusCode != http.StatusOK {
		c.logger.Printf("APNs: %s rejected (status=%d, reason=%s)", what, res.StatusCode, res.Reason)
		if res.StatusCode == http.StatusGone || res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken {
			return fmt.Errorf("%w: %s", ErrDeviceGone, res.Reason)
		}
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.logger.Printf("APNs: %s sent successfully to %s...", what, shortToken(deviceToken))
	return nil
}

func shortToken(t string) string {
	if len(t) > 16 {
		return t[:16]
	}
	return t
}
