package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/templates"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// Throttle admits a key at most once per window.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type redisThrottle struct {
	client *redis.Client
	window time.Duration
}

// NewRedisThrottle shares the window across every node through SET NX EX.
func NewRedisThrottle(client *redis.Client, window time.Duration) Throttle {
	return &redisThrottle{client: client, window: window}
}

func (rt *redisThrottle) Allow(ctx context.Context, key string) (bool, error) {
	return rt.client.SetNX(ctx, "chat:notify:"+key, 1, rt.window).Result()
}

type localThrottle struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewLocalThrottle is the single-node fallback when redis is not configured.
func NewLocalThrottle(window time.Duration) Throttle {
	return &localThrottle{window: window, seen: make(map[string]time.Time), now: time.Now}
}

func (lt *localThrottle) Allow(_ context.Context, key string) (bool, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	now := lt.now()
	for k, until := range lt.seen {
		if !now.Before(until) {
			delete(lt.seen, k)
		}
	}
	if until, ok := lt.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	lt.seen[key] = now.Add(lt.window)
	return true, nil
}

// NotificationService tells room participants without a live connection
// that a message is waiting. Email and text are both optional.
type NotificationService interface {
	NotifyNewMessage(ctx context.Context, room *types.ChatRoom, msg *types.Message, isOnline func(userID uuid.UUID) bool)
}

type notificationService struct {
	log         *logger.Logger
	userRepo    repos.UserRepo
	companyRepo repos.CompanyRepo
	email       EmailService
	text        TextService
	throttle    Throttle
	appURL      string
}

// appURL is the web client base used for the "open chat" link; empty omits
// the link.
func NewNotificationService(
	log *logger.Logger,
	userRepo repos.UserRepo,
	companyRepo repos.CompanyRepo,
	email EmailService,
	text TextService,
	throttle Throttle,
	appURL string,
) NotificationService {
	return &notificationService{
		log:         log.With("service", "NotificationService"),
		userRepo:    userRepo,
		companyRepo: companyRepo,
		email:       email,
		text:        text,
		throttle:    throttle,
		appURL:      strings.TrimRight(appURL, "/"),
	}
}

func (ns *notificationService) NotifyNewMessage(ctx context.Context, room *types.ChatRoom, msg *types.Message, isOnline func(userID uuid.UUID) bool) {
	if ns.email == nil && ns.text == nil {
		return
	}
	recipients := []uuid.UUID{room.UserID}
	if room.CompanyID != nil {
		company, err := ns.companyRepo.GetByID(ctx, nil, *room.CompanyID)
		if err != nil {
			ns.log.Warn("Could not resolve company owner for notification", "roomID", room.ID, "error", err)
		} else {
			recipients = append(recipients, company.OwnerUserID)
		}
	}

	var targets []uuid.UUID
	for _, id := range recipients {
		if id == msg.SenderID || (isOnline != nil && isOnline(id)) {
			continue
		}
		key := fmt.Sprintf("%s:%s", room.ID, id)
		ok, err := ns.throttle.Allow(ctx, key)
		if err != nil {
			ns.log.Warn("Notification throttle unavailable, skipping", "key", key, "error", err)
			continue
		}
		if ok {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return
	}

	users, err := ns.userRepo.GetByIDs(ctx, nil, targets)
	if err != nil {
		ns.log.Warn("Could not load notification recipients", "roomID", room.ID, "error", err)
		return
	}
	subject := fmt.Sprintf("New message about your %s booking", room.BookingType)
	preview := Preview(msg)
	body := fmt.Sprintf("%s sent a message: %q. Open Localease to reply.", senderLabel(msg.SenderType), preview)
	chatLink := ""
	if ns.appURL != "" {
		chatLink = fmt.Sprintf("%s/chat/%s", ns.appURL, room.ID)
	}
	for _, u := range users {
		if ns.email != nil && u.Email != "" {
			htmlBody, err := templates.RenderChatNotificationHTML(templates.ChatNotificationData{
				RecipientName: u.FirstName,
				SenderLabel:   senderLabel(msg.SenderType),
				BookingType:   string(room.BookingType),
				Preview:       preview,
				ChatLink:      chatLink,
			})
			if err != nil {
				ns.log.Warn("Failed to render notification e-mail", "error", err)
				htmlBody = "<p>" + html.EscapeString(body) + "</p>"
			}
			if err := ns.email.SendEmail(ctx, u.Email, subject, body, htmlBody); err != nil {
				ns.log.Warn("Offline email notification failed", "userID", u.ID, "error", err)
			}
		}
		if ns.text != nil && u.PhoneNumber != nil && *u.PhoneNumber != "" {
			if err := ns.text.SendText(ctx, *u.PhoneNumber, body); err != nil {
				ns.log.Warn("Offline text notification failed", "userID", u.ID, "error", err)
			}
		}
	}
}

func senderLabel(st types.SenderType) string {
	switch st {
	case types.SenderCompany:
		return "Your service company"
	case types.SenderAdmin:
		return "Localease support"
	default:
		return "Your customer"
	}
}
