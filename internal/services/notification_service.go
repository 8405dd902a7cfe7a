package services

import (
	"fmt"
	"regexp"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/models"
)

// Notification is the payload handed to the out-of-band delivery layer.
type Notification struct {
	Type     string
	Severity models.Severity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Notifier is the narrow interface the enforcement engines emit
// through. Delivery is best-effort: implementations never block the
// caller on confirmation.
type Notifier interface {
	Notify(n Notification)
}

// NotificationService fans security alerts out to configured providers
// via shoutrrr. Providers filter by minimum severity; delivery runs
// asynchronously and failures are only logged.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL rewrites raw webhook URLs into shoutrrr service URLs.
func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

var severityRank = map[models.Severity]int{
	models.SeverityInfo:     0,
	models.SeverityWarning:  1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

// Notify dispatches n to every enabled provider whose minimum severity
// is at or below the notification's severity.
func (s *NotificationService) Notify(n Notification) {
	var providers []models.NotificationProvider
	if err := s.db.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Warn("failed to load notification providers")
		return
	}

	for _, provider := range providers {
		if severityRank[n.Severity] < severityRank[provider.MinSeverity] {
			continue
		}

		go func(p models.NotificationProvider) {
			url := normalizeURL(p.Type, p.URL)
			msg := fmt.Sprintf("[%s] %s\n\n%s", n.Severity, n.Title, n.Message)
			if err := shoutrrr.Send(url, msg); err != nil {
				logger.WithFields(map[string]interface{}{
					"provider": p.Name,
					"type":     n.Type,
				}).WithError(err).Warn("notification delivery failed")
			}
		}(provider)
	}
}

// Provider management

func (s *NotificationService) ListProviders() ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	err := s.db.Order("created_at desc").Find(&providers).Error
	return providers, err
}

func (s *NotificationService) CreateProvider(p *models.NotificationProvider) error {
	if p.MinSeverity == "" {
		p.MinSeverity = models.SeverityWarning
	}
	if _, ok := severityRank[p.MinSeverity]; !ok {
		return fmt.Errorf("invalid minimum severity: %s", p.MinSeverity)
	}
	return s.db.Create(p).Error
}

func (s *NotificationService) DeleteProvider(id string) error {
	return s.db.Delete(&models.NotificationProvider{}, "id = ?", id).Error
}

// TestProvider sends a test message synchronously so admins get
// immediate feedback from the dashboard.
func (s *NotificationService) TestProvider(p models.NotificationProvider) error {
	url := normalizeURL(p.Type, p.URL)
	return shoutrrr.Send(url, fmt.Sprintf("Test notification from Aegis at %s", time.Now().Format(time.RFC3339)))
}
