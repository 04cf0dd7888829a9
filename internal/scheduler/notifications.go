package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/logger"
)

// Activity types recorded by RegisterAppStart/RegisterAppExit/
// RegisterProfileParse (§4.12).
const (
	ActivityAppStart     = "app_start"
	ActivityAppExit      = "app_exit"
	ActivityProfileParse = "profile_parse"
)

// ActivityStore is the slice of *database.DB the notification scheduler
// needs for activity bookkeeping and the notification queue itself.
type ActivityStore interface {
	RecordActivity(userID int64, activityType string, extra map[string]interface{}) error
	CountActivity(userID int64, activityType string) (int64, error)
	CreateNotification(n *database.NotificationSchedule) (*database.NotificationSchedule, error)
	ListDueNotifications(now time.Time, maxRetries int) ([]*database.NotificationSchedule, error)
	MarkNotificationSent(id int64) error
	MarkNotificationFailed(id int64, errMsg string) error
}

// UserLookup resolves the chat id a notification is delivered to. The
// external id doubles as the messaging chat id (§3 User.ExternalID).
type UserLookup interface {
	GetUserByID(id int64) (*database.User, error)
}

// Notifier is the send-only capability the delivery loop needs, owned
// here rather than imported from internal/notifier so this package only
// depends on the shape it actually uses.
type Notifier interface {
	Send(ctx context.Context, chatID int64, message, buttonText, buttonURL string) error
}

// NotificationScheduler implements the §4.12 registration calls and the
// tick-driven delivery loop.
type NotificationScheduler struct {
	store      ActivityStore
	users      UserLookup
	notifier   Notifier
	miniAppURL string
	interval   time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewNotificationScheduler builds a NotificationScheduler. miniAppURL is
// appended to each scheduled notification's button link, empty if the
// mini-app integration is not configured (§6 env vars).
func NewNotificationScheduler(store ActivityStore, users UserLookup, notifier Notifier, miniAppURL string) *NotificationScheduler {
	return &NotificationScheduler{
		store:      store,
		users:      users,
		notifier:   notifier,
		miniAppURL: miniAppURL,
		interval:   consts.NotificationsTickPeriod,
	}
}

// Run starts the delivery tick loop. Calling Run twice is a no-op.
func (s *NotificationScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
}

// Stop cancels the delivery loop and waits for the in-flight tick to finish.
func (s *NotificationScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *NotificationScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *NotificationScheduler) tick(ctx context.Context) {
	due, err := s.store.ListDueNotifications(time.Now(), consts.MaxNotificationRetries)
	if err != nil {
		logger.Warn("failed to list due notifications", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, n := range due {
		s.deliverOne(ctx, n)
	}
}

func (s *NotificationScheduler) deliverOne(ctx context.Context, n *database.NotificationSchedule) {
	user, err := s.users.GetUserByID(n.UserID)
	if err != nil || user == nil {
		if markErr := s.store.MarkNotificationFailed(n.ID, "unknown user"); markErr != nil {
			logger.Warn("failed to record notification failure", map[string]interface{}{"notification_id": n.ID, "error": markErr.Error()})
		}
		return
	}

	chatID, err := strconv.ParseInt(user.ExternalID, 10, 64)
	if err != nil {
		if markErr := s.store.MarkNotificationFailed(n.ID, "external id is not a chat id"); markErr != nil {
			logger.Warn("failed to record notification failure", map[string]interface{}{"notification_id": n.ID, "error": markErr.Error()})
		}
		return
	}

	if err := s.notifier.Send(ctx, chatID, n.Message, n.ButtonText, n.ButtonURL); err != nil {
		if markErr := s.store.MarkNotificationFailed(n.ID, err.Error()); markErr != nil {
			logger.Warn("failed to record notification failure", map[string]interface{}{"notification_id": n.ID, "error": markErr.Error()})
		}
		return
	}
	if err := s.store.MarkNotificationSent(n.ID); err != nil {
		logger.Warn("failed to mark notification sent", map[string]interface{}{"notification_id": n.ID, "error": err.Error()})
	}
}

// RegisterAppStart records a session start (§4.12); it never schedules
// notifications on its own.
func (s *NotificationScheduler) RegisterAppStart(user *database.User) error {
	return s.store.RecordActivity(user.ID, ActivityAppStart, nil)
}

// RegisterAppExit records a session end (§4.12).
func (s *NotificationScheduler) RegisterAppExit(user *database.User) error {
	return s.store.RecordActivity(user.ID, ActivityAppExit, nil)
}

// RegisterProfileParse records a profile parse and, the first time this
// user ever parses a profile, schedules the five follow-up
// notifications at consts.NotificationOffsets (§4.12), with the first
// offset randomized to 5-10 minutes per call rather than a fixed delay.
func (s *NotificationScheduler) RegisterProfileParse(user *database.User, username string) error {
	if err := s.store.RecordActivity(user.ID, ActivityProfileParse, map[string]interface{}{"username": username}); err != nil {
		return fmt.Errorf("record profile parse activity: %w", err)
	}

	count, err := s.store.CountActivity(user.ID, ActivityProfileParse)
	if err != nil {
		return fmt.Errorf("count profile parse activity: %w", err)
	}
	if count != 1 {
		return nil
	}

	now := time.Now()
	offsets := append([]time.Duration{randomFirstOffset()}, consts.NotificationOffsets[1:]...)
	for i, tpl := range notificationTemplates(username, s.miniAppURL) {
		_, err := s.store.CreateNotification(&database.NotificationSchedule{
			UserID:        user.ID,
			Type:          tpl.typ,
			ScheduledTime: now.Add(offsets[i]),
			Message:       tpl.message,
			ButtonText:    tpl.buttonText,
			ButtonURL:     tpl.buttonURL,
		})
		if err != nil {
			logger.Warn("failed to schedule notification", map[string]interface{}{"user_id": user.ID, "type": tpl.typ, "error": err.Error()})
		}
	}
	return nil
}

// randomFirstOffset picks the 5-10 minute delay for the first
// post-parse notification (§4.12).
func randomFirstOffset() time.Duration {
	return time.Duration(5+rand.Intn(6)) * time.Minute
}

type notificationTemplate struct {
	typ        string
	message    string
	buttonText string
	buttonURL  string
}

// notificationTemplates builds the five fixed follow-up messages for a
// parsed username. buttonURL is left empty when no mini-app is
// configured, so Notifier.Send omits the inline button entirely.
func notificationTemplates(username, miniAppURL string) []notificationTemplate {
	link := ""
	if miniAppURL != "" {
		link = fmt.Sprintf("%s?username=%s", miniAppURL, username)
	}
	return []notificationTemplate{
		{
			typ:        "parse_done",
			message:    fmt.Sprintf("We finished scraping @%s. Take a look at what we found.", username),
			buttonText: "Open",
			buttonURL:  link,
		},
		{
			typ:        "parse_followup_2h",
			message:    fmt.Sprintf("@%s's followers are still fresh — see who you have in common.", username),
			buttonText: "Open",
			buttonURL:  link,
		},
		{
			typ:        "parse_followup_48h",
			message:    fmt.Sprintf("Haven't checked @%s's followers yet?", username),
			buttonText: "Open",
			buttonURL:  link,
		},
		{
			typ:        "parse_followup_72h",
			message:    fmt.Sprintf("One more look at @%s before the data goes stale.", username),
			buttonText: "Open",
			buttonURL:  link,
		},
		{
			typ:        "parse_followup_96h",
			message:    fmt.Sprintf("Last call — @%s's parsed data expires soon.", username),
			buttonText: "Open",
			buttonURL:  link,
		},
	}
}
