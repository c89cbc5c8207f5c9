package ledger

import (
	"context"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/bus"
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
	// One connection keeps the in-memory database alive and serializes
	// access under the concurrency tests.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&domain.UserModel{},
		&domain.StreamModel{},
		&domain.MessageModel{},
		&domain.TipModel{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string, role domain.Role, credits int64) {
	t.Helper()
	model := domain.UserToModel(&domain.User{
		ID:       id,
		Role:     role,
		Username: "user-" + id,
		Email:    id + "@example.com",
		Credits:  credits,
	})
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedStream(t *testing.T, db *gorm.DB, id, broadcasterID string) {
	t.Helper()
	model := domain.StreamToModel(&domain.Stream{
		ID:            id,
		BroadcasterID: broadcasterID,
		IsLive:        true,
		Title:         "test stream",
	})
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("seed stream %s: %v", id, err)
	}
}

func credits(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var model domain.UserModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return model.Credits
}

func TestTransferMovesCredits(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "viewer", domain.RoleViewer, 100)
	seedUser(t, db, "caster", domain.RoleBroadcaster, 0)

	l := New(db, nil)
	tip, err := l.Transfer(context.Background(), "viewer", "caster", 30, "", "")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tip.Amount != 30 {
		t.Fatalf("tip amount = %d, want 30", tip.Amount)
	}

	if got := credits(t, db, "viewer"); got != 70 {
		t.Errorf("sender balance = %d, want 70", got)
	}
	if got := credits(t, db, "caster"); got != 30 {
		t.Errorf("recipient balance = %d, want 30", got)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "viewer", domain.RoleViewer, 10)
	seedUser(t, db, "caster", domain.RoleBroadcaster, 0)

	l := New(db, nil)
	_, err := l.Transfer(context.Background(), "viewer", "caster", 50, "", "")
	if !domain.IsConflict(err) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	// Nothing moved.
	if got := credits(t, db, "viewer"); got != 10 {
		t.Errorf("sender balance = %d, want 10", got)
	}
	if got := credits(t, db, "caster"); got != 0 {
		t.Errorf("recipient balance = %d, want 0", got)
	}

	var tips int64
	db.Model(&domain.TipModel{}).Count(&tips)
	if tips != 0 {
		t.Errorf("tip rows = %d, want 0", tips)
	}
}

func TestTransferValidation(t *testing.T) {
	db := newTestDB(t)
	l := New(db, nil)
	ctx := context.Background()

	if _, err := l.Transfer(ctx, "a", "b", 0, "", ""); !domain.IsValidation(err) {
		t.Errorf("zero amount: err = %v, want ValidationError", err)
	}
	if _, err := l.Transfer(ctx, "a", "b", -5, "", ""); !domain.IsValidation(err) {
		t.Errorf("negative amount: err = %v, want ValidationError", err)
	}
	if _, err := l.Transfer(ctx, "a", "a", 10, "", ""); !domain.IsValidation(err) {
		t.Errorf("self transfer: err = %v, want ValidationError", err)
	}
}

func TestTransferUnknownUsers(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "viewer", domain.RoleViewer, 100)

	l := New(db, nil)
	ctx := context.Background()

	if _, err := l.Transfer(ctx, "ghost", "viewer", 10, "", ""); err != domain.ErrUserNotFound {
		t.Errorf("unknown sender: err = %v, want ErrUserNotFound", err)
	}
	if _, err := l.Transfer(ctx, "viewer", "ghost", 10, "", ""); err != domain.ErrUserNotFound {
		t.Errorf("unknown recipient: err = %v, want ErrUserNotFound", err)
	}
	if got := credits(t, db, "viewer"); got != 100 {
		t.Errorf("sender balance = %d, want 100 after rollback", got)
	}
}

func TestTransferRecordsStreamArtifacts(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "viewer", domain.RoleViewer, 100)
	seedUser(t, db, "caster", domain.RoleBroadcaster, 0)
	seedStream(t, db, "s1", "caster")

	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	ctx := context.Background()

	tipCh, err := memBus.Subscribe(ctx, bus.TipsChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe tips: %v", err)
	}
	msgCh, err := memBus.Subscribe(ctx, bus.MessagesChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe messages: %v", err)
	}

	l := New(db, memBus)
	tip, err := l.Transfer(ctx, "viewer", "caster", 25, "s1", "nice show")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Tip row, chat echo, and the stream's running total all committed.
	var tipModel domain.TipModel
	if err := db.First(&tipModel, "id = ?", tip.ID).Error; err != nil {
		t.Fatalf("tip row missing: %v", err)
	}
	var echo domain.MessageModel
	if err := db.First(&echo, "stream_id = ? AND kind = ?", "s1", "tip").Error; err != nil {
		t.Fatalf("chat echo missing: %v", err)
	}
	var stream domain.StreamModel
	if err := db.First(&stream, "id = ?", "s1").Error; err != nil {
		t.Fatalf("stream row: %v", err)
	}
	if stream.TotalTips != 25 {
		t.Errorf("stream total tips = %d, want 25", stream.TotalTips)
	}

	// Both events fanned out after commit.
	tipEv := <-tipCh
	if tipEv.Kind != bus.KindTipSent || tipEv.ID != tip.ID {
		t.Errorf("tip event = %+v, want kind %s id %s", tipEv, bus.KindTipSent, tip.ID)
	}
	msgEv := <-msgCh
	if msgEv.Kind != bus.KindMessageCreated || msgEv.ID != echo.ID {
		t.Errorf("message event = %+v, want kind %s id %s", msgEv, bus.KindMessageCreated, echo.ID)
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "viewer", domain.RoleViewer, 50)
	seedUser(t, db, "caster", domain.RoleBroadcaster, 0)

	l := New(db, nil)
	ctx := context.Background()

	// 20 concurrent transfers of 10 against a balance of 50: exactly 5
	// can succeed.
	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transfer(ctx, "viewer", "caster", 10, "", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case domain.IsConflict(err):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 5 {
		t.Errorf("succeeded = %d, want 5", succeeded)
	}
	if conflicted != attempts-5 {
		t.Errorf("conflicted = %d, want %d", conflicted, attempts-5)
	}
	if got := credits(t, db, "viewer"); got != 0 {
		t.Errorf("sender balance = %d, want 0", got)
	}
	if got := credits(t, db, "caster"); got != 50 {
		t.Errorf("recipient balance = %d, want 50", got)
	}
}
