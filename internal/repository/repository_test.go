package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&domain.UserModel{},
		&domain.StreamModel{},
		&domain.MessageModel{},
		&domain.TipModel{},
		&domain.PrivateShowModel{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newUser(id, username string, role domain.Role) *domain.User {
	return &domain.User{
		ID:       id,
		Role:     role,
		Username: username,
		Email:    username + "@example.com",
		Credits:  100,
	}
}

func TestUserCreateValidation(t *testing.T) {
	repo := NewGormUserRepository(newTestDB(t))
	ctx := context.Background()

	cases := []struct {
		name string
		user *domain.User
	}{
		{"bad role", &domain.User{Role: "admin", Username: "alice"}},
		{"short username", &domain.User{Role: domain.RoleViewer, Username: "ab"}},
		{"negative credits", &domain.User{Role: domain.RoleViewer, Username: "alice", Credits: -1}},
	}
	for _, tc := range cases {
		if err := repo.Create(ctx, tc.user); !domain.IsValidation(err) {
			t.Errorf("%s: err = %v, want ValidationError", tc.name, err)
		}
	}
}

func TestUserUniquenessConflicts(t *testing.T) {
	repo := NewGormUserRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("u1", "alice", domain.RoleViewer)); err != nil {
		t.Fatalf("create: %v", err)
	}

	dupUsername := newUser("u2", "alice", domain.RoleViewer)
	dupUsername.Email = "other@example.com"
	err := repo.Create(ctx, dupUsername)
	if !domain.IsConflict(err) || !errors.Is(err, domain.ErrUsernameExists) {
		t.Errorf("duplicate username: err = %v, want ConflictError wrapping ErrUsernameExists", err)
	}

	dupEmail := newUser("u3", "bob", domain.RoleViewer)
	dupEmail.Email = "alice@example.com"
	err = repo.Create(ctx, dupEmail)
	if !domain.IsConflict(err) || !errors.Is(err, domain.ErrEmailExists) {
		t.Errorf("duplicate email: err = %v, want ConflictError wrapping ErrEmailExists", err)
	}
}

func TestUserProfilePatchLeavesRoleAndCredits(t *testing.T) {
	repo := NewGormUserRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("u1", "alice", domain.RoleBroadcaster)); err != nil {
		t.Fatalf("create: %v", err)
	}

	bio := "streams on weekends"
	updated, err := repo.UpdateProfile(ctx, "u1", &domain.UpdateProfileRequest{Bio: &bio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Bio != bio {
		t.Errorf("bio = %q, want %q", updated.Bio, bio)
	}
	if updated.Role != domain.RoleBroadcaster || updated.Credits != 100 {
		t.Errorf("role/credits changed by profile patch: %+v", updated)
	}
}

func TestStreamLifecycleGuards(t *testing.T) {
	db := newTestDB(t)
	users := NewGormUserRepository(db)
	streams := NewGormStreamRepository(db)
	ctx := context.Background()

	if err := users.Create(ctx, newUser("b1", "caster", domain.RoleBroadcaster)); err != nil {
		t.Fatalf("create user: %v", err)
	}

	stream := &domain.Stream{BroadcasterID: "b1", Title: "first show"}
	if err := streams.Create(ctx, stream); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if stream.IsLive {
		t.Error("new stream is live, want offline")
	}

	started, err := streams.Start(ctx, stream.ID, "b1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !started.IsLive || started.StartedAt == nil {
		t.Errorf("started stream = %+v, want live with started_at", started)
	}

	// A second start and a foreign start both conflict.
	if _, err := streams.Start(ctx, stream.ID, "b1"); !domain.IsConflict(err) {
		t.Errorf("double start err = %v, want ConflictError", err)
	}
	if _, err := streams.Start(ctx, stream.ID, "intruder"); !domain.IsConflict(err) {
		t.Errorf("foreign start err = %v, want ConflictError", err)
	}

	ended, err := streams.End(ctx, stream.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.IsLive || ended.EndedAt == nil {
		t.Errorf("ended stream = %+v, want offline with ended_at", ended)
	}
	if ended.Viewers != 0 {
		t.Errorf("viewers after end = %d, want 0", ended.Viewers)
	}

	if _, err := streams.End(ctx, stream.ID); !domain.IsConflict(err) {
		t.Errorf("double end err = %v, want ConflictError", err)
	}

	if _, err := streams.Start(ctx, "missing", "b1"); !errors.Is(err, domain.ErrStreamNotFound) {
		t.Errorf("start missing err = %v, want ErrStreamNotFound", err)
	}
}

func TestStreamListJoinsBroadcaster(t *testing.T) {
	db := newTestDB(t)
	users := NewGormUserRepository(db)
	streams := NewGormStreamRepository(db)
	ctx := context.Background()

	if err := users.Create(ctx, newUser("b1", "caster", domain.RoleBroadcaster)); err != nil {
		t.Fatalf("create user: %v", err)
	}

	live := &domain.Stream{BroadcasterID: "b1", Title: "live one"}
	offline := &domain.Stream{BroadcasterID: "b1", Title: "old one"}
	for _, s := range []*domain.Stream{live, offline} {
		if err := streams.Create(ctx, s); err != nil {
			t.Fatalf("create stream: %v", err)
		}
	}
	if _, err := streams.Start(ctx, live.ID, "b1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	isLive := true
	result, total, err := streams.List(ctx, &domain.ListStreamsRequest{Live: &isLive, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(result) != 1 {
		t.Fatalf("live list = %d items (total %d), want 1", len(result), total)
	}
	if result[0].ID != live.ID {
		t.Errorf("live stream id = %s, want %s", result[0].ID, live.ID)
	}
	if result[0].Broadcaster == nil || result[0].Broadcaster.Username != "caster" {
		t.Errorf("broadcaster join = %+v, want caster profile", result[0].Broadcaster)
	}
}

func TestMessageHistoryOrder(t *testing.T) {
	db := newTestDB(t)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insert newest first to prove ordering comes from the query.
	for i := 4; i >= 0; i-- {
		msg := &domain.Message{
			StreamID:  "s1",
			UserID:    "u1",
			Content:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := messages.Create(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	history, err := messages.History(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}

	// Most recent three, ascending.
	want := []string{"c", "d", "e"}
	for i := range history {
		if history[i].Content != want[i] {
			t.Fatalf("history order = %v, want %v", history, want)
		}
		if i > 0 && !history[i-1].Before(&history[i]) {
			t.Fatalf("history not ascending at %d", i)
		}
	}
}

func TestShowAccrualAndTerminalGuards(t *testing.T) {
	db := newTestDB(t)
	shows := NewGormShowRepository(db)
	ctx := context.Background()

	show := &domain.PrivateShow{BroadcasterID: "b1", ViewerID: "v1", RatePerMinute: 30}
	if err := shows.Create(ctx, show); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := shows.Accrue(ctx, show.ID, 30); err != nil {
			t.Fatalf("accrue %d: %v", i, err)
		}
	}

	active, err := shows.ActiveShowForViewer(ctx, "v1")
	if err != nil {
		t.Fatalf("active show: %v", err)
	}
	if active.TotalCost != 90 {
		t.Errorf("total cost = %d, want 90", active.TotalCost)
	}

	finished, err := shows.Finish(ctx, show.ID, domain.ShowStatusEnded)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != domain.ShowStatusEnded || finished.EndedAt == nil {
		t.Errorf("finished show = %+v, want ended with ended_at", finished)
	}

	// Terminal shows neither accrue nor finish again.
	if err := shows.Accrue(ctx, show.ID, 30); !domain.IsConflict(err) {
		t.Errorf("accrue after end err = %v, want ConflictError", err)
	}
	if _, err := shows.Finish(ctx, show.ID, domain.ShowStatusCancelled); !domain.IsConflict(err) {
		t.Errorf("double finish err = %v, want ConflictError", err)
	}

	if _, err := shows.ActiveShowForViewer(ctx, "v1"); !errors.Is(err, domain.ErrShowNotFound) {
		t.Errorf("active show after end err = %v, want ErrShowNotFound", err)
	}
}
