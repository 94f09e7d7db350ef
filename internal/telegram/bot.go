package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ai-meal-tracker/internal/clipper"
	"ai-meal-tracker/internal/config"
	"ai-meal-tracker/internal/dashboard"
	"ai-meal-tracker/internal/meal"
	"ai-meal-tracker/internal/metrics"
	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// staleSessionAfter is how long an in-flight action may stay pending before
// the session is considered interrupted.
const staleSessionAfter = 2 * time.Minute

var errNothingToCancel = errors.New("nothing to cancel")

const helpText = "🥗 *Meal Tracker*\n\n" +
	"Send what you ate, e.g. `2 eggs and 1 slice toast`, or a recipe link.\n\n" +
	"/today - meals and progress\n" +
	"/edit <n> - change meal n from /today\n" +
	"/cancel - stop editing\n" +
	"/delete <n> - remove meal n\n" +
	"/goals - daily targets\n" +
	"/export - download today's log"

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type MealService interface {
	Log(ctx context.Context, uid, description string) (meal.Meal, error)
	Edit(ctx context.Context, uid, id, description string) (meal.Meal, error)
	Delete(ctx context.Context, uid, id string) error
	Today(ctx context.Context, uid string) ([]meal.Meal, error)
	Summary(ctx context.Context, uid string) (meal.Summary, error)
	Export(ctx context.Context, uid string) (meal.Export, string, error)
}

type GoalsService interface {
	Goals(ctx context.Context, uid string) (profile.Goals, error)
}

type Clipper interface {
	ClipURL(ctx context.Context, url string) (clipper.Clip, error)
}

type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

type SessionStore interface {
	Get(ctx context.Context, telegramID int64) (Session, error)
	Save(ctx context.Context, telegramID int64, state dashboard.State, now time.Time) error
}

// Deps are the services the bot drives.
type Deps struct {
	Meals    MealService
	Goals    GoalsService
	Clipper  Clipper
	Usage    UsageReporter
	Sessions SessionStore
}

// Bot wraps the Telegram API and the meal services.
type Bot struct {
	api    *tgbotapi.BotAPI
	sender Sender
	deps   Deps
	cfg    *config.Config
	now    func() time.Time

	// locks holds one *sync.Mutex per Telegram user.
	locks sync.Map
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, deps Deps) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	slog.Info("Authorized on Telegram", "account", bot.Self.UserName)

	webhookURL := cfg.TelegramWebhookURL
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", webhookURL, err)
	}
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	slog.Info("Webhook set", "url", webhookURL, "response", resp.Description)

	b := newBot(bot, cfg, deps)
	b.api = bot
	return b, nil
}

func newBot(sender Sender, cfg *config.Config, deps Deps) *Bot {
	return &Bot{sender: sender, deps: deps, cfg: cfg, now: time.Now}
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		slog.Warn("Error parsing update", "error", err)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}

	if !b.isAllowed(update.Message.From.ID) {
		slog.Warn("Unauthorized access attempt", "telegram_id", update.Message.From.ID, "username", update.Message.From.UserName)
		return
	}

	go b.processMessage(context.Background(), update.Message)
}

func (b *Bot) isAllowed(id int64) bool {
	for _, allowed := range b.cfg.TelegramAllowedUserIDs {
		if id == allowed {
			return true
		}
	}
	return false
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	uid := userID(msg.From.ID)
	text := strings.TrimSpace(msg.Text)

	cmd, args := parseCommand(text)
	switch cmd {
	case "":
	case "start", "help":
		b.reply(msg.Chat.ID, helpText)
		return
	case "metrics":
		b.handleMetricsRequest(ctx, msg)
		return
	case "today":
		b.handleToday(ctx, msg, uid)
		return
	case "goals":
		b.handleGoals(ctx, msg, uid)
		return
	case "export":
		b.handleExport(ctx, msg, uid)
		return
	case "edit":
		b.handleEdit(ctx, msg, uid, args)
		return
	case "cancel":
		b.handleCancel(ctx, msg)
		return
	case "delete":
		b.handleDelete(ctx, msg, uid, args)
		return
	default:
		b.reply(msg.Chat.ID, "🤔 Unknown command.\n\n"+helpText)
		return
	}

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		b.handleClipperRequest(ctx, msg, uid, text)
		return
	}

	st, ok := b.begin(ctx, msg, func(st dashboard.State) (dashboard.State, error) {
		if st.Editing != nil {
			return st.BeginUpdate()
		}
		return st.BeginAdd()
	})
	if !ok {
		return
	}
	if st.Updating {
		b.updateMeal(ctx, msg, uid, st, text)
		return
	}
	b.logMeal(ctx, msg, uid, st, text)
}

// logMeal runs an add that begin has already admitted.
func (b *Bot) logMeal(ctx context.Context, msg *tgbotapi.Message, uid string, st dashboard.State, description string) {
	sent, err := b.send(msg.Chat.ID, "🔎 *Analyzing meal...*")
	if err != nil {
		b.saveState(ctx, msg.From.ID, st.Reset())
		return
	}

	m, err := b.deps.Meals.Log(ctx, uid, description)
	if err != nil {
		slog.Error("Failed to log meal", "user", uid, "error", err)
		b.saveState(ctx, msg.From.ID, st.AddFailed(err, b.now()))
		b.edit(msg.Chat.ID, sent.MessageID, fmt.Sprintf("❌ *Could not log meal:* %s", escape(err.Error())))
		if !errors.Is(err, meal.ErrEmptyDescription) {
			b.sendAdminAlert(fmt.Sprintf("⚠️ *Meal log failed*\nUser: %s", escape(uid)))
		}
		return
	}

	b.saveState(ctx, msg.From.ID, st.AddSucceeded("Meal logged", b.now()))
	b.edit(msg.Chat.ID, sent.MessageID, formatMealLogged("✅ *Meal logged*", m))
}

func (b *Bot) updateMeal(ctx context.Context, msg *tgbotapi.Message, uid string, st dashboard.State, description string) {
	m, err := b.deps.Meals.Edit(ctx, uid, st.Editing.MealID, description)
	if err != nil {
		slog.Error("Failed to update meal", "user", uid, "meal", st.Editing.MealID, "error", err)
		b.saveState(ctx, msg.From.ID, st.UpdateFailed(err, b.now()))
		b.reply(msg.Chat.ID, fmt.Sprintf("❌ *Could not update meal:* %s\nSend another description or /cancel.", escape(err.Error())))
		return
	}

	b.saveState(ctx, msg.From.ID, st.UpdateSucceeded("Meal updated", b.now()))
	b.reply(msg.Chat.ID, formatMealLogged("✏️ *Meal updated*", m))
}

func (b *Bot) handleEdit(ctx context.Context, msg *tgbotapi.Message, uid, args string) {
	m, ok := b.pickMeal(ctx, msg, uid, args, "edit")
	if !ok {
		return
	}
	_, ok = b.begin(ctx, msg, func(st dashboard.State) (dashboard.State, error) {
		return st.StartEdit(m.ID, m.Description)
	})
	if !ok {
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("✏️ Editing: _%s_\nSend the new description, or /cancel.", escape(m.Description)))
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) {
	_, ok := b.begin(ctx, msg, func(st dashboard.State) (dashboard.State, error) {
		if st.Editing == nil {
			return st, errNothingToCancel
		}
		return st.CancelEdit(), nil
	})
	if !ok {
		return
	}
	b.reply(msg.Chat.ID, "👌 Edit cancelled.")
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message, uid, args string) {
	m, ok := b.pickMeal(ctx, msg, uid, args, "delete")
	if !ok {
		return
	}
	st, ok := b.begin(ctx, msg, func(st dashboard.State) (dashboard.State, error) {
		return st.BeginDelete(m.ID)
	})
	if !ok {
		return
	}

	if err := b.deps.Meals.Delete(ctx, uid, m.ID); err != nil {
		slog.Error("Failed to delete meal", "user", uid, "meal", m.ID, "error", err)
		b.saveState(ctx, msg.From.ID, st.DeleteFailed(err, b.now()))
		b.reply(msg.Chat.ID, fmt.Sprintf("❌ *Could not delete meal:* %s", escape(err.Error())))
		return
	}

	b.saveState(ctx, msg.From.ID, st.DeleteSucceeded("Meal deleted", b.now()))
	b.reply(msg.Chat.ID, fmt.Sprintf("🗑 Deleted _%s_", escape(m.Description)))
}

// pickMeal resolves the 1-based position shown by /today.
func (b *Bot) pickMeal(ctx context.Context, msg *tgbotapi.Message, uid, args, verb string) (meal.Meal, bool) {
	meals, err := b.deps.Meals.Today(ctx, uid)
	if err != nil {
		slog.Error("Failed to list meals", "user", uid, "error", err)
		b.reply(msg.Chat.ID, "❌ Error fetching today's meals.")
		return meal.Meal{}, false
	}
	idx, err := parseIndex(args, len(meals))
	if err != nil {
		b.reply(msg.Chat.ID, fmt.Sprintf("Use /%s <n> with a number from /today.", verb))
		return meal.Meal{}, false
	}
	return meals[idx], true
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message, uid string) {
	summary, err := b.deps.Meals.Summary(ctx, uid)
	if err != nil {
		slog.Error("Failed to build summary", "user", uid, "error", err)
		b.reply(msg.Chat.ID, "❌ Error fetching today's meals.")
		return
	}
	b.reply(msg.Chat.ID, formatSummary(summary, b.cfg.Location))
}

func (b *Bot) handleGoals(ctx context.Context, msg *tgbotapi.Message, uid string) {
	goals, err := b.deps.Goals.Goals(ctx, uid)
	if err != nil {
		slog.Error("Failed to load goals", "user", uid, "error", err)
		b.reply(msg.Chat.ID, "❌ Error fetching goals.")
		return
	}
	b.reply(msg.Chat.ID, formatGoals(goals))
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message, uid string) {
	export, filename, err := b.deps.Meals.Export(ctx, uid)
	if err != nil {
		slog.Error("Failed to export meals", "user", uid, "error", err)
		b.reply(msg.Chat.ID, "❌ Error exporting meals.")
		return
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Error exporting meals.")
		return
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = fmt.Sprintf("%d meals, %s kcal", len(export.Meals), formatCalories(export.Totals.Calories))
	if _, err := b.sender.Send(doc); err != nil {
		slog.Error("Failed to send export", "user", uid, "error", err)
	}
}

func (b *Bot) handleClipperRequest(ctx context.Context, msg *tgbotapi.Message, uid, url string) {
	sent, err := b.send(msg.Chat.ID, "✂️ *Clipping meal...*")
	if err != nil {
		return
	}

	clip, err := b.deps.Clipper.ClipURL(ctx, url)
	if err != nil {
		slog.Warn("Error clipping meal", "url", url, "error", err)
		safeErr := strings.ReplaceAll(err.Error(), "`", "'")
		b.edit(msg.Chat.ID, sent.MessageID, fmt.Sprintf("❌ *Error clipping meal:*\n```\n%v\n```", safeErr))
		return
	}
	b.edit(msg.Chat.ID, sent.MessageID, fmt.Sprintf("✂️ Clipped *%s*", escape(clip.Title)))

	st, ok := b.begin(ctx, msg, dashboard.State.BeginAdd)
	if !ok {
		return
	}
	b.logMeal(ctx, msg, uid, st, clip.Description())
}

func (b *Bot) handleMetricsRequest(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.reply(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}
	usage, err := b.deps.Usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	b.reply(msg.Chat.ID, formatUsageReport(usage, metrics.GetSysHealth(b.cfg.DatabasePath)))
}

func (b *Bot) sendAdminAlert(text string) {
	if b.cfg.AdminTelegramID == 0 {
		return
	}
	b.reply(b.cfg.AdminTelegramID, text)
}

func (b *Bot) userLock(telegramID int64) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(telegramID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// begin loads the caller's session, applies next and stores the result while
// holding the user's lock, so overlapping messages see each other's busy
// state. It replies and returns false when next refuses the transition.
func (b *Bot) begin(ctx context.Context, msg *tgbotapi.Message, next func(dashboard.State) (dashboard.State, error)) (dashboard.State, bool) {
	mu := b.userLock(msg.From.ID)
	mu.Lock()
	defer mu.Unlock()

	st, ok := b.loadState(ctx, msg)
	if !ok {
		return st, false
	}
	st, err := next(st)
	switch {
	case errors.Is(err, dashboard.ErrBusy):
		b.reply(msg.Chat.ID, "⏳ Still working on your last request.")
		return st, false
	case errors.Is(err, errNothingToCancel):
		b.reply(msg.Chat.ID, "Nothing to cancel.")
		return st, false
	case err != nil:
		b.reply(msg.Chat.ID, fmt.Sprintf("❌ %s", escape(err.Error())))
		return st, false
	}
	b.storeState(ctx, msg.From.ID, st)
	return st, true
}

// loadState returns the caller's dashboard state with expired banners and
// interrupted actions cleared.
func (b *Bot) loadState(ctx context.Context, msg *tgbotapi.Message) (dashboard.State, bool) {
	s, err := b.deps.Sessions.Get(ctx, msg.From.ID)
	if err != nil {
		slog.Error("Failed to load session", "telegram_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, "❌ Something went wrong, please try again.")
		return dashboard.State{}, false
	}
	now := b.now()
	st := s.State.Expire(now)
	if st.Busy() && now.Sub(s.UpdatedAt) > staleSessionAfter {
		st = st.Reset()
	}
	return st, true
}

func (b *Bot) saveState(ctx context.Context, telegramID int64, st dashboard.State) {
	mu := b.userLock(telegramID)
	mu.Lock()
	defer mu.Unlock()
	b.storeState(ctx, telegramID, st)
}

func (b *Bot) storeState(ctx context.Context, telegramID int64, st dashboard.State) {
	if err := b.deps.Sessions.Save(ctx, telegramID, st, b.now()); err != nil {
		slog.Error("Failed to save session", "telegram_id", telegramID, "error", err)
	}
}

func (b *Bot) send(chatID int64, text string) (tgbotapi.Message, error) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	sent, err := b.sender.Send(m)
	if err != nil {
		slog.Error("Failed to send message", "chat", chatID, "error", err)
	}
	return sent, err
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(chatID, text)
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	e := tgbotapi.NewEditMessageText(chatID, messageID, text)
	e.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.sender.Send(e); err != nil {
		slog.Error("Failed to edit message", "chat", chatID, "error", err)
	}
}

func userID(telegramID int64) string {
	return fmt.Sprintf("tg:%d", telegramID)
}

// parseCommand splits "/edit@bot 2" into ("edit", "2"). Plain text yields an
// empty command.
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

// parseIndex converts a 1-based position into a slice index below n.
func parseIndex(args string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return 0, err
	}
	if i < 1 || i > n {
		return 0, fmt.Errorf("position %d out of range", i)
	}
	return i - 1, nil
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func formatCalories(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func formatGrams(v float64) string {
	return strconv.FormatFloat(nutrition.Round1(v), 'f', -1, 64) + "g"
}

func formatTotals(t meal.Totals) string {
	return fmt.Sprintf("%s kcal · P %s · C %s · F %s",
		formatCalories(t.Calories), formatGrams(t.Protein), formatGrams(t.Carbs), formatGrams(t.Fats))
}

func formatMealLogged(header string, m meal.Meal) string {
	var sb strings.Builder
	sb.WriteString(header + "\n\n")
	sb.WriteString(fmt.Sprintf("_%s_\n", escape(m.Description)))
	for _, item := range m.Items {
		sb.WriteString(fmt.Sprintf("• %s: %s kcal\n", escape(item.Name), formatCalories(item.Calories)))
	}
	sb.WriteString("\n" + formatTotals(m.ResolvedTotals()))
	if m.Source == nutrition.SourceFallback {
		sb.WriteString("\n_Estimated offline_")
	}
	return sb.String()
}

func formatSummary(s meal.Summary, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 *Today* (%s)\n\n", s.Date))

	if len(s.Meals) == 0 {
		sb.WriteString("_No meals logged yet_\n")
	}
	for i, m := range s.Meals {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, escape(m.Description), m.Timestamp.In(loc).Format("15:04")))
		sb.WriteString(fmt.Sprintf("   %s\n", formatTotals(m.ResolvedTotals())))
	}

	sb.WriteString("\n📊 *Progress*\n")
	p := s.Progress
	sb.WriteString(progressLine("Calories", formatCalories(p.Calories.Consumed), formatCalories(p.Calories.Goal)+" kcal", p.Calories.Percent))
	sb.WriteString(progressLine("Protein", formatGrams(p.Protein.Consumed), formatGrams(p.Protein.Goal), p.Protein.Percent))
	sb.WriteString(progressLine("Carbs", formatGrams(p.Carbs.Consumed), formatGrams(p.Carbs.Goal), p.Carbs.Percent))
	sb.WriteString(progressLine("Fats", formatGrams(p.Fats.Consumed), formatGrams(p.Fats.Goal), p.Fats.Percent))
	return sb.String()
}

func progressLine(label, consumed, goal string, percent float64) string {
	return fmt.Sprintf("• %s: %s / %s %s %d%%\n", label, consumed, goal, progressBar(percent), int(math.Round(percent*100)))
}

// progressBar renders a ten-cell bar for a percent in [0, 1].
func progressBar(percent float64) string {
	filled := int(math.Round(math.Max(0, math.Min(percent, 1)) * 10))
	return strings.Repeat("▓", filled) + strings.Repeat("░", 10-filled)
}

func formatGoals(g profile.Goals) string {
	var sb strings.Builder
	sb.WriteString("🎯 *Daily Goals*\n\n")
	sb.WriteString(fmt.Sprintf("• Calories: %s kcal\n", formatCalories(g.Calories)))
	sb.WriteString(fmt.Sprintf("• Protein: %s\n", formatGrams(g.Protein)))
	sb.WriteString(fmt.Sprintf("• Carbs: %s\n", formatGrams(g.Carbs)))
	sb.WriteString(fmt.Sprintf("• Fats: %s\n", formatGrams(g.Fats)))
	return sb.String()
}

func formatUsageReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %s tokens (%d execs)\n", d.Date, humanize.Comma(int64(d.TotalPrompt+d.TotalCompletion)), d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %s (Alloc) / %s (Sys)\n", health.Alloc, health.Sys))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataDiskSize))
	return sb.String()
}
