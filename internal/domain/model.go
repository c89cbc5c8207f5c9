package domain

import (
	"time"

	"gorm.io/gorm"
)

// UserModel is the GORM model for the users table. Credits are only
// ever written through the ledger's guarded updates.
type UserModel struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	Role      string `gorm:"type:varchar(20);not null"`
	Username  string `gorm:"type:varchar(50);uniqueIndex;not null"`
	Email     string `gorm:"type:varchar(255);uniqueIndex;not null"`
	AvatarURL string `gorm:"type:varchar(500)"`
	Bio       string `gorm:"type:text"`
	Credits   int64  `gorm:"not null;default:0"`
	IsOnline  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:        m.ID,
		Role:      Role(m.Role),
		Username:  m.Username,
		Email:     m.Email,
		AvatarURL: m.AvatarURL,
		Bio:       m.Bio,
		Credits:   m.Credits,
		IsOnline:  m.IsOnline,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:        u.ID,
		Role:      string(u.Role),
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		Bio:       u.Bio,
		Credits:   u.Credits,
		IsOnline:  u.IsOnline,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// StreamModel is the GORM model for the streams table.
type StreamModel struct {
	ID            string `gorm:"type:varchar(36);primaryKey"`
	BroadcasterID string `gorm:"type:varchar(36);index;not null"`
	IsLive        bool   `gorm:"index;not null;default:false"`
	Title         string `gorm:"type:varchar(200);not null"`
	Description   string `gorm:"type:text"`
	StreamURL     string `gorm:"type:varchar(500)"`
	StartedAt     *time.Time
	EndedAt       *time.Time
	Viewers       int   `gorm:"not null;default:0"`
	TotalTips     int64 `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`

	Broadcaster *UserModel `gorm:"foreignKey:BroadcasterID"`
}

// TableName specifies the table name for StreamModel.
func (StreamModel) TableName() string {
	return "streams"
}

// ToDomain converts StreamModel to domain Stream.
func (m *StreamModel) ToDomain() *Stream {
	s := &Stream{
		ID:            m.ID,
		BroadcasterID: m.BroadcasterID,
		IsLive:        m.IsLive,
		Title:         m.Title,
		Description:   m.Description,
		StreamURL:     m.StreamURL,
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
		Viewers:       m.Viewers,
		TotalTips:     m.TotalTips,
		CreatedAt:     m.CreatedAt,
	}
	if m.Broadcaster != nil {
		p := m.Broadcaster.ToDomain().ToPublic()
		s.Broadcaster = &p
	}
	return s
}

// StreamToModel converts domain Stream to StreamModel.
func StreamToModel(s *Stream) *StreamModel {
	return &StreamModel{
		ID:            s.ID,
		BroadcasterID: s.BroadcasterID,
		IsLive:        s.IsLive,
		Title:         s.Title,
		Description:   s.Description,
		StreamURL:     s.StreamURL,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Viewers:       s.Viewers,
		TotalTips:     s.TotalTips,
		CreatedAt:     s.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table. The composite
// index backs the per-stream (timestamp, id) total order.
type MessageModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	StreamID  string    `gorm:"type:varchar(36);index:idx_stream_order,priority:1;not null"`
	UserID    string    `gorm:"type:varchar(36);index;not null"`
	Content   string    `gorm:"type:text;not null"`
	Kind      string    `gorm:"type:varchar(10);not null;default:'chat'"`
	Timestamp time.Time `gorm:"index:idx_stream_order,priority:2;not null"`

	User *UserModel `gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:        m.ID,
		StreamID:  m.StreamID,
		UserID:    m.UserID,
		Content:   m.Content,
		Kind:      MessageKind(m.Kind),
		Timestamp: m.Timestamp,
	}
	if m.User != nil {
		p := m.User.ToDomain().ToPublic()
		msg.User = &p
	}
	return msg
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(m *Message) *MessageModel {
	return &MessageModel{
		ID:        m.ID,
		StreamID:  m.StreamID,
		UserID:    m.UserID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		Timestamp: m.Timestamp,
	}
}

// TipModel is the GORM model for the tips table.
type TipModel struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	FromUserID      string    `gorm:"type:varchar(36);index;not null"`
	ToBroadcasterID string    `gorm:"type:varchar(36);index;not null"`
	StreamID        string    `gorm:"type:varchar(36);index"`
	Amount          int64     `gorm:"not null"`
	Message         string    `gorm:"type:varchar(500)"`
	Timestamp       time.Time `gorm:"index;not null"`

	FromUser *UserModel `gorm:"foreignKey:FromUserID"`
}

// TableName specifies the table name for TipModel.
func (TipModel) TableName() string {
	return "tips"
}

// ToDomain converts TipModel to domain Tip.
func (m *TipModel) ToDomain() *Tip {
	t := &Tip{
		ID:              m.ID,
		FromUserID:      m.FromUserID,
		ToBroadcasterID: m.ToBroadcasterID,
		StreamID:        m.StreamID,
		Amount:          m.Amount,
		Message:         m.Message,
		Timestamp:       m.Timestamp,
	}
	if m.FromUser != nil {
		p := m.FromUser.ToDomain().ToPublic()
		t.FromUser = &p
	}
	return t
}

// TipToModel converts domain Tip to TipModel.
func TipToModel(t *Tip) *TipModel {
	return &TipModel{
		ID:              t.ID,
		FromUserID:      t.FromUserID,
		ToBroadcasterID: t.ToBroadcasterID,
		StreamID:        t.StreamID,
		Amount:          t.Amount,
		Message:         t.Message,
		Timestamp:       t.Timestamp,
	}
}

// PrivateShowModel is the GORM model for the private_shows table.
type PrivateShowModel struct {
	ID            string `gorm:"type:varchar(36);primaryKey"`
	BroadcasterID string `gorm:"type:varchar(36);index;not null"`
	ViewerID      string `gorm:"type:varchar(36);index;not null"`
	RatePerMinute int64  `gorm:"not null"`
	Status        string `gorm:"type:varchar(20);index;not null;default:'active'"`
	StartedAt     time.Time `gorm:"not null"`
	EndedAt       *time.Time
	TotalCost     int64 `gorm:"not null;default:0"`
}

// TableName specifies the table name for PrivateShowModel.
func (PrivateShowModel) TableName() string {
	return "private_shows"
}

// ToDomain converts PrivateShowModel to domain PrivateShow.
func (m *PrivateShowModel) ToDomain() *PrivateShow {
	return &PrivateShow{
		ID:            m.ID,
		BroadcasterID: m.BroadcasterID,
		ViewerID:      m.ViewerID,
		RatePerMinute: m.RatePerMinute,
		Status:        ShowStatus(m.Status),
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
		TotalCost:     m.TotalCost,
	}
}

// ShowToModel converts domain PrivateShow to PrivateShowModel.
func ShowToModel(s *PrivateShow) *PrivateShowModel {
	return &PrivateShowModel{
		ID:            s.ID,
		BroadcasterID: s.BroadcasterID,
		ViewerID:      s.ViewerID,
		RatePerMinute: s.RatePerMinute,
		Status:        string(s.Status),
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		TotalCost:     s.TotalCost,
	}
}
