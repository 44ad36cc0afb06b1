package bot

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/sync/semaphore"

	"github.com/onnwee/kissbot/llm"
	"github.com/onnwee/kissbot/shaping"
	"github.com/onnwee/kissbot/telemetry"
)

const (
	askPrefix = "!ask"
	// questions longer than this are answered with the long mention profile
	longQuestionRunes = 120
	defaultCooldown   = 10 * time.Second
	defaultInFlight   = 4
)

// ChatClient is the subset of *twitch.Client used by the responder.
type ChatClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Reply(channel, parentMsgID, text string)
	Connect() error
	Disconnect() error
}

// Responder answers !ask commands and mentions of the bot in chat.
type Responder struct {
	BotName   string
	Generator llm.Generator
	Shaper    *shaping.Shaper
	Cooldown  time.Duration
	// MaxInFlight bounds concurrent generations (default 4).
	MaxInFlight int64

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
	sem      *semaphore.Weighted
	initOnce sync.Once
}

func (r *Responder) init() {
	r.initOnce.Do(func() {
		if r.Cooldown == 0 {
			r.Cooldown = defaultCooldown
		}
		if r.MaxInFlight <= 0 {
			r.MaxInFlight = defaultInFlight
		}
		if r.now == nil {
			r.now = time.Now
		}
		r.lastSeen = map[string]time.Time{}
		r.sem = semaphore.NewWeighted(r.MaxInFlight)
	})
}

// ExtractMention reports whether text mentions botName and returns the text
// with the mention removed and whitespace collapsed. Matching is
// case-insensitive and the leading @ is optional; "@other_bot" does not
// mention "bot".
func ExtractMention(text, botName string) (string, bool) {
	if botName == "" {
		return "", false
	}
	re := regexp.MustCompile(`(?i)(^|[^\w@])@?` + regexp.QuoteMeta(botName) + `\b`)
	if !re.MatchString(text) {
		return "", false
	}
	rest := re.ReplaceAllString(text, "$1")
	return strings.Join(strings.Fields(rest), " "), true
}

// Classify picks the shaping kind for a chat message, returning the prompt
// to send. ok is false when the message needs no answer.
func (r *Responder) Classify(text string) (kind shaping.Kind, prompt string, ok bool) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if lower == askPrefix || strings.HasPrefix(lower, askPrefix+" ") {
		q := strings.TrimSpace(text[len(askPrefix):])
		if q == "" {
			return "", "", false
		}
		return shaping.Classify("ask", false), q, true
	}
	q, mentioned := ExtractMention(text, r.BotName)
	if !mentioned || q == "" {
		return "", "", false
	}
	long := utf8.RuneCountInString(q) > longQuestionRunes || strings.Contains(strings.ToLower(q), "explique")
	return shaping.Classify("mention", long), q, true
}

// allow enforces the per-user cooldown.
func (r *Responder) allow(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	key := strings.ToLower(user)
	if last, ok := r.lastSeen[key]; ok && now.Sub(last) < r.Cooldown {
		return false
	}
	r.lastSeen[key] = now
	return true
}

// Respond returns the reply for a message from user, or "" when the message
// is ignored (own message, cooldown, not addressed to the bot, llm failure).
func (r *Responder) Respond(ctx context.Context, user, text string) (string, error) {
	r.init()
	if strings.EqualFold(user, r.BotName) {
		return "", nil
	}
	kind, prompt, ok := r.Classify(text)
	if !ok {
		return "", nil
	}
	if !r.allow(user) {
		return "", nil
	}
	profile, err := r.Shaper.Profile(kind)
	if err != nil {
		return "", err
	}

	ctx, span := telemetry.StartSpan(ctx, "kissbot/bot", "respond", telemetry.KindAttr(string(kind)))
	defer span.End()

	comp, err := r.Generator.Generate(ctx, prompt, profile)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	text = shaping.StripSelfIntroduction(comp.Text, r.BotName)
	out, _, err := r.Shaper.Shape(kind, text)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	if comp.Truncated() {
		out = shaping.MarkLengthStop(out, profile)
	}
	telemetry.SetSpanSuccess(span)
	return out, nil
}

// Run joins channels and answers messages until ctx is done.
func (r *Responder) Run(ctx context.Context, client ChatClient, channels []string) error {
	r.init()
	logger := slog.Default().With(slog.String("component", "responder"))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		stopping bool
	)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		mu.Lock()
		if stopping {
			mu.Unlock()
			return
		}
		if !r.sem.TryAcquire(1) {
			mu.Unlock()
			logger.Debug("dropping message, too many generations in flight", slog.String("user", msg.User.Name))
			return
		}
		wg.Add(1)
		mu.Unlock()
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)
			mctx := telemetry.WithCorrelation(ctx, msg.ID)
			reply, err := r.Respond(mctx, msg.User.Name, msg.Message)
			if err != nil {
				lvl := slog.LevelWarn
				if errors.Is(err, llm.ErrCircuitOpen) {
					lvl = slog.LevelDebug
				}
				telemetry.LoggerWithCorr(mctx).Log(mctx, lvl, "no reply", slog.String("channel", msg.Channel), slog.String("user", msg.User.Name), slog.Any("err", err))
				return
			}
			if reply == "" {
				return
			}
			client.Reply(msg.Channel, msg.ID, reply)
		}()
	})

	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	client.Join(channels...)
	logger.Info("connecting to chat", slog.Int("channels", len(channels)))
	err := client.Connect()
	// the reader may still dispatch after Connect returns
	mu.Lock()
	stopping = true
	mu.Unlock()
	wg.Wait()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}
