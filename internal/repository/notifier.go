package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/logger"
)

// Publisher is the slice of pkg/kafka.Producer the Kafka-backed repositories need.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Notification is the payload written to the notify topic.
type Notification struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// KafkaNotifier publishes operator notifications to a topic.
type KafkaNotifier struct {
	pub    Publisher
	topic  string
	source string
}

func NewKafkaNotifier(pub Publisher, topic, source string) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, topic: topic, source: source}
}

func (n *KafkaNotifier) Notify(ctx context.Context, text string) error {
	msg := Notification{Source: n.source, Text: text, At: time.Now().UTC()}
	if err := n.pub.Publish(ctx, n.topic, []byte(n.source), msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

const telegramMaxLen = 4096

// TelegramSender is the part of tgbotapi.BotAPI used for sending.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends notifications to one chat, splitting long texts.
type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
}

// NewTelegramNotifier authorizes the bot token against the Telegram API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

func NewTelegramNotifierWithSender(bot TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) Notify(_ context.Context, text string) error {
	for _, part := range splitMessage(text, telegramMaxLen) {
		if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}

// FanoutNotifier delivers to every channel and reports the joined failures.
// One broken channel never blocks the others.
type FanoutNotifier struct {
	targets []repository.Notifier
	l       *logger.Logger
}

func NewFanoutNotifier(l *logger.Logger, targets ...repository.Notifier) *FanoutNotifier {
	if l == nil {
		l = logger.Nop()
	}
	var live []repository.Notifier
	for _, t := range targets {
		if t != nil {
			live = append(live, t)
		}
	}
	return &FanoutNotifier{targets: live, l: l}
}

func (f *FanoutNotifier) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Notify(ctx, text); err != nil {
			f.l.Warn("notification channel failed", logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the log. It is the channel of last resort.
type LogNotifier struct {
	l *logger.Logger
}

func NewLogNotifier(l *logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.Nop()
	}
	return &LogNotifier{l: l}
}

func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.l.Warn("operator notification", logger.String("text", text))
	return nil
}

var (
	_ repository.Notifier = (*KafkaNotifier)(nil)
	_ repository.Notifier = (*TelegramNotifier)(nil)
	_ repository.Notifier = (*FanoutNotifier)(nil)
	_ repository.Notifier = (*LogNotifier)(nil)
)
