package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/opencoach/livecoach/config"
	"github.com/opencoach/livecoach/live"
	"github.com/opencoach/livecoach/logging"
)

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dialer   live.Dialer
	logger   logging.Logger
}

// NewManager creates a session manager with Redis connection. One dialer is
// shared by every session, so the underlying API client is built once.
func NewManager(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Manager, error) {
	dialer, err := live.NewGenAIDialer(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create live dialer: %w", err)
	}

	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	// Test Redis connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Redis unavailable, continue without it
		redisClient = nil
	}

	if logger == nil {
		logger = logging.Nop()
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		dialer:   dialer,
		logger:   logger,
	}, nil
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()

	session, err := NewClientSession(sessionID, clientConn, sm.config, sm.dialer, sm.sessionLogger(sessionID))
	if err != nil {
		return nil, err
	}

	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// CreateTwilioSession creates a new Twilio voice call session
func (sm *Manager) CreateTwilioSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()

	session, err := NewTwilioClientSession(sessionID, clientConn, sm.config, sm.dialer, sm.sessionLogger(sessionID))
	if err != nil {
		return nil, err
	}

	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// sessionLogger tags the shared logger with the owning session id
func (sm *Manager) sessionLogger(sessionID string) logging.Logger {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return logging.With(sm.logger, "session", short)
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"is_twilio":     session.IsTwilio,
		})
		sm.redis.SAdd(ctx, "active_sessions", sessionID)
		sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}

	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			session.Close()
			delete(sm.sessions, id)

			if sm.redis != nil {
				sm.redis.Del(ctx, "session:"+id)
				sm.redis.SRem(ctx, "active_sessions", id)
			}
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
