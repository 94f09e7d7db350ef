package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-meal-tracker/internal/clipper"
	"ai-meal-tracker/internal/config"
	"ai-meal-tracker/internal/dashboard"
	"ai-meal-tracker/internal/database"
	"ai-meal-tracker/internal/meal"
	"ai-meal-tracker/internal/metrics"
	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	testUserID  = int64(42)
	testAdminID = int64(7)
)

// --- Mocks ---
type mockSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

// texts returns the text of every message and edit sent so far.
func (m *mockSender) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sent {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, v.Text)
		}
	}
	return out
}

func (m *mockSender) last() string {
	texts := m.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type mockClipper struct {
	clip clipper.Clip
	err  error
}

func (m mockClipper) ClipURL(ctx context.Context, url string) (clipper.Clip, error) {
	return m.clip, m.err
}

type mockGoals struct{}

func (mockGoals) Goals(ctx context.Context, uid string) (profile.Goals, error) {
	return profile.DefaultGoals, nil
}

// countingMeals records how many meals reached the service.
type countingMeals struct {
	*meal.Service
	logs atomic.Int32
}

func (c *countingMeals) Log(ctx context.Context, uid, description string) (meal.Meal, error) {
	c.logs.Add(1)
	return c.Service.Log(ctx, uid, description)
}

// slowSessions holds every Get until a second reader shows up or the wait
// runs out, keeping the gap between reading and saving a session wide open.
type slowSessions struct {
	SessionStore
	readers atomic.Int32
}

func (s *slowSessions) Get(ctx context.Context, telegramID int64) (Session, error) {
	sess, err := s.SessionStore.Get(ctx, telegramID)
	s.readers.Add(1)
	deadline := time.Now().Add(200 * time.Millisecond)
	for s.readers.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return sess, err
}

type testBot struct {
	bot      *Bot
	sender   *mockSender
	meals    *meal.Service
	sessions *SessionRepository
	now      time.Time
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tb := &testBot{sender: &mockSender{}, now: time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC)}
	clock := meal.Clock{Now: func() time.Time { return tb.now }, Location: time.UTC}
	tb.meals = meal.NewService(meal.NewRepository(db.SQL, clock), nutrition.NewAnalyzer(nil), nil, clock)
	tb.sessions = NewSessionRepository(db.SQL)

	cfg := &config.Config{
		TelegramAllowedUserIDs: []int64{testUserID},
		AdminTelegramID:        testAdminID,
		DatabasePath:           filepath.Join(t.TempDir(), "none.db"),
		Location:               time.UTC,
	}
	tb.bot = newBot(tb.sender, cfg, Deps{
		Meals:    tb.meals,
		Goals:    mockGoals{},
		Clipper:  mockClipper{clip: clipper.Clip{Title: "Omelette", Ingredients: []string{"2 eggs", "1 slice cheese"}}},
		Usage:    metrics.NewStore(db.SQL),
		Sessions: tb.sessions,
	})
	tb.bot.now = func() time.Time { return tb.now }
	return tb
}

func (tb *testBot) say(text string) {
	tb.sayAs(testUserID, text)
}

func (tb *testBot) sayAs(from int64, text string) {
	tb.bot.processMessage(context.Background(), &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: from},
		Text: text,
	})
}

func (tb *testBot) state(t *testing.T) dashboard.State {
	t.Helper()
	s, err := tb.sessions.Get(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	return s.State
}

// --- Tests ---

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, cmd, args string
	}{
		{"2 eggs", "", ""},
		{"/today", "today", ""},
		{"/Edit 2", "edit", "2"},
		{"/delete@meal_bot  3 ", "delete", "3"},
		{"/", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args := parseCommand(tt.text)
			if cmd != tt.cmd || args != tt.args {
				t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.text, cmd, args, tt.cmd, tt.args)
			}
		})
	}
}

func TestParseIndex(t *testing.T) {
	if i, err := parseIndex("2", 3); err != nil || i != 1 {
		t.Errorf("Expected index 1, got %d (%v)", i, err)
	}
	for _, args := range []string{"", "x", "0", "4", "-1"} {
		if _, err := parseIndex(args, 3); err == nil {
			t.Errorf("Expected error for %q", args)
		}
	}
}

func TestFormatSummary(t *testing.T) {
	totals := meal.Totals{Calories: 500, Protein: 14.3, Carbs: 16.5, Fats: 11}
	summary := meal.Summary{
		Date: "Sat Mar 09 2024",
		Meals: []meal.Meal{{
			Description: "2 eggs and toast",
			Totals:      &totals,
			Timestamp:   time.Date(2024, 3, 9, 8, 15, 0, 0, time.UTC),
		}},
		Totals: totals,
		Goals:  profile.DefaultGoals,
	}
	summary.Progress = meal.ComputeProgress(summary.Totals, summary.Goals)

	out := formatSummary(summary, time.UTC)
	for _, want := range []string{
		"📋 *Today* (Sat Mar 09 2024)",
		"1. 2 eggs and toast (08:15)",
		"500 kcal · P 14.3g · C 16.5g · F 11g",
		"• Calories: 500 / 2,000 kcal ▓▓▓░░░░░░░ 25%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}

	empty := formatSummary(meal.Summary{Date: "Sat Mar 09 2024", Goals: profile.DefaultGoals}, nil)
	if !strings.Contains(empty, "_No meals logged yet_") {
		t.Error("Missing empty-day note")
	}
}

func TestProgressBar(t *testing.T) {
	tests := map[float64]string{
		0:   "░░░░░░░░░░",
		0.5: "▓▓▓▓▓░░░░░",
		1:   "▓▓▓▓▓▓▓▓▓▓",
		3:   "▓▓▓▓▓▓▓▓▓▓",
	}
	for in, want := range tests {
		if got := progressBar(in); got != want {
			t.Errorf("progressBar(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatUsageReport(t *testing.T) {
	usage := []metrics.DailyUsage{{Date: "2024-03-09", TotalPrompt: 1200, TotalCompletion: 300, TotalExecution: 4}}
	out := formatUsageReport(usage, metrics.SysHealth{Alloc: "2.0 MB", Sys: "10 MB", Goroutines: 9, DataDiskSize: "1.0 kB"})

	for _, want := range []string{
		"• *2024-03-09*: 1,500 tokens (4 execs)",
		"• RAM: 2.0 MB (Alloc) / 10 MB (Sys)",
		"• Goroutines: 9",
		"• Disk Data: 1.0 kB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected report to contain %q", want)
		}
	}
	if !strings.Contains(formatUsageReport(nil, metrics.SysHealth{}), "_No data yet_") {
		t.Error("Missing no-data note")
	}
}

func TestLogMeal(t *testing.T) {
	tb := newTestBot(t)
	tb.say("2 eggs")

	out := tb.sender.last()
	for _, want := range []string{"✅ *Meal logged*", "• 2 eggs: 140 kcal", "140 kcal · P 12g · C 1g · F 10g", "_Estimated offline_"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected reply to contain %q, got:\n%s", want, out)
		}
	}

	st := tb.state(t)
	if st.Busy() || st.Banner == nil || st.Banner.Kind != dashboard.BannerSuccess {
		t.Errorf("Unexpected session state %+v", st)
	}

	meals, _ := tb.meals.Today(context.Background(), userID(testUserID))
	if len(meals) != 1 || meals[0].UserID != "tg:42" {
		t.Fatalf("Expected one meal for tg:42, got %+v", meals)
	}
}

func TestBusySessionRejectsNewMeal(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	busy, _ := dashboard.State{}.BeginAdd()

	if err := tb.sessions.Save(ctx, testUserID, busy, tb.now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	tb.say("1 apple")
	if !strings.Contains(tb.sender.last(), "Still working") {
		t.Errorf("Expected busy reply, got %q", tb.sender.last())
	}

	// An interrupted action no longer blocks once it is stale.
	tb.now = tb.now.Add(staleSessionAfter + time.Second)
	tb.say("1 apple")
	if !strings.Contains(tb.sender.last(), "✅ *Meal logged*") {
		t.Errorf("Expected meal logged after stale session, got %q", tb.sender.last())
	}
}

func TestConcurrentMessagesAdmitOneMeal(t *testing.T) {
	tb := newTestBot(t)
	counting := &countingMeals{Service: tb.meals}
	tb.bot.deps.Meals = counting
	tb.bot.deps.Sessions = &slowSessions{SessionStore: tb.sessions}

	var wg sync.WaitGroup
	for _, text := range []string{"1 apple", "1 banana"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tb.say(text)
		}()
	}
	wg.Wait()

	if got := counting.logs.Load(); got != 1 {
		t.Fatalf("Expected 1 meal logged while busy, got %d", got)
	}
	busyReplies := 0
	for _, text := range tb.sender.texts() {
		if strings.Contains(text, "Still working") {
			busyReplies++
		}
	}
	if busyReplies != 1 {
		t.Errorf("Expected 1 busy reply, got %d: %v", busyReplies, tb.sender.texts())
	}
	if st := tb.state(t); st.Busy() {
		t.Errorf("Expected idle session after both messages, got %+v", st)
	}
}

func TestEditFlow(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	tb.say("2 eggs")

	tb.say("/edit 5")
	if !strings.Contains(tb.sender.last(), "Use /edit <n>") {
		t.Errorf("Expected usage hint, got %q", tb.sender.last())
	}

	tb.say("/edit 1")
	if st := tb.state(t); st.Editing == nil || st.Editing.Description != "2 eggs" {
		t.Fatalf("Expected edit to be open, got %+v", st)
	}

	tb.say("3 bananas")
	if !strings.Contains(tb.sender.last(), "✏️ *Meal updated*") {
		t.Errorf("Expected update reply, got %q", tb.sender.last())
	}
	if st := tb.state(t); st.Editing != nil {
		t.Errorf("Expected edit to be closed, got %+v", st.Editing)
	}

	meals, _ := tb.meals.Today(ctx, userID(testUserID))
	if len(meals) != 1 || meals[0].Description != "3 bananas" || meals[0].ResolvedTotals().Calories != 315 {
		t.Errorf("Unexpected meals after edit: %+v", meals)
	}

	t.Run("Cancel", func(t *testing.T) {
		tb.say("/edit 1")
		tb.say("/cancel")
		if st := tb.state(t); st.Editing != nil {
			t.Errorf("Expected edit to be cancelled")
		}
		tb.say("/cancel")
		if tb.sender.last() != "Nothing to cancel." {
			t.Errorf("Unexpected reply %q", tb.sender.last())
		}
	})
}

func TestDeleteFlow(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	tb.say("1 apple")
	tb.say("2 eggs")

	// Newest first: 1 is the eggs.
	tb.say("/delete 1")
	if !strings.Contains(tb.sender.last(), "🗑 Deleted _2 eggs_") {
		t.Errorf("Unexpected reply %q", tb.sender.last())
	}

	meals, _ := tb.meals.Today(ctx, userID(testUserID))
	if len(meals) != 1 || meals[0].Description != "1 apple" {
		t.Errorf("Unexpected meals after delete: %+v", meals)
	}
	if st := tb.state(t); st.DeletingID != "" {
		t.Errorf("Expected no delete in flight, got %q", st.DeletingID)
	}
}

func TestTodayAndGoals(t *testing.T) {
	tb := newTestBot(t)
	tb.say("/today")
	if !strings.Contains(tb.sender.last(), "_No meals logged yet_") {
		t.Errorf("Unexpected /today reply %q", tb.sender.last())
	}

	tb.say("3 bananas")
	tb.say("/today")
	if !strings.Contains(tb.sender.last(), "1. 3 bananas (08:30)") {
		t.Errorf("Unexpected /today reply %q", tb.sender.last())
	}

	tb.say("/goals")
	if !strings.Contains(tb.sender.last(), "• Calories: 2,000 kcal") {
		t.Errorf("Unexpected /goals reply %q", tb.sender.last())
	}
}

func TestExport(t *testing.T) {
	tb := newTestBot(t)
	tb.say("2 eggs")
	tb.say("/export")

	doc, ok := tb.sender.sent[len(tb.sender.sent)-1].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("Expected a document, got %T", tb.sender.sent[len(tb.sender.sent)-1])
	}
	file, ok := doc.File.(tgbotapi.FileBytes)
	if !ok {
		t.Fatalf("Expected file bytes, got %T", doc.File)
	}
	if file.Name != "meals-2024-03-09.json" {
		t.Errorf("Unexpected file name %q", file.Name)
	}

	var export meal.Export
	if err := json.Unmarshal(file.Bytes, &export); err != nil {
		t.Fatalf("Export is not JSON: %v", err)
	}
	if len(export.Meals) != 1 || export.Totals.Calories != 140 {
		t.Errorf("Unexpected export %+v", export)
	}
	if doc.Caption != "1 meals, 140 kcal" {
		t.Errorf("Unexpected caption %q", doc.Caption)
	}
}

func TestClipperRequest(t *testing.T) {
	tb := newTestBot(t)
	tb.say("https://example.com/omelette")

	texts := tb.sender.texts()
	if !containsText(texts, "✂️ Clipped *Omelette*") {
		t.Errorf("Missing clip confirmation in %v", texts)
	}
	meals, _ := tb.meals.Today(context.Background(), userID(testUserID))
	if len(meals) != 1 || meals[0].Description != "Omelette: 2 eggs, 1 slice cheese" {
		t.Fatalf("Unexpected meals %+v", meals)
	}

	t.Run("Error", func(t *testing.T) {
		tb.bot.deps.Clipper = mockClipper{err: errors.New("status 404")}
		tb.say("https://example.com/missing")
		if !strings.Contains(tb.sender.last(), "❌ *Error clipping meal:*") {
			t.Errorf("Unexpected reply %q", tb.sender.last())
		}
	})
}

func TestMetricsRequest(t *testing.T) {
	tb := newTestBot(t)
	tb.say("/metrics")
	if !strings.Contains(tb.sender.last(), "Access Denied") {
		t.Errorf("Expected non-admin to be denied, got %q", tb.sender.last())
	}

	tb.sayAs(testAdminID, "/metrics")
	if !strings.Contains(tb.sender.last(), "📊 *Usage & Health Report*") {
		t.Errorf("Expected report for admin, got %q", tb.sender.last())
	}
}

func TestIsAllowed(t *testing.T) {
	tb := newTestBot(t)
	if !tb.bot.isAllowed(testUserID) {
		t.Error("Expected listed user to be allowed")
	}
	if tb.bot.isAllowed(99) {
		t.Error("Expected unlisted user to be denied")
	}
}

func TestSessionRepository(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	s, err := tb.sessions.Get(ctx, 1)
	if err != nil || s.State.Busy() || s.State.Editing != nil {
		t.Fatalf("Expected idle session for unknown user, got %+v (%v)", s, err)
	}

	st, _ := dashboard.State{}.StartEdit("m1", "2 eggs")
	if err := tb.sessions.Save(ctx, 1, st, tb.now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := tb.sessions.Save(ctx, 1, st.AddSucceeded("ok", tb.now), tb.now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s, err = tb.sessions.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.State.Editing == nil || s.State.Editing.MealID != "m1" || s.State.Banner == nil {
		t.Errorf("Unexpected state %+v", s.State)
	}
	if !s.UpdatedAt.Equal(tb.now) {
		t.Errorf("Expected updated_at %v, got %v", tb.now, s.UpdatedAt)
	}

	if err := tb.sessions.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s, _ := tb.sessions.Get(ctx, 1); s.State.Editing != nil {
		t.Error("Expected session to be gone")
	}
}

func containsText(texts []string, want string) bool {
	for _, s := range texts {
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}
