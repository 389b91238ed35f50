package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gig-chat/internal/middleware"
	"gig-chat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type SimConfig struct {
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per connected user per hour
	ChannelSendRatio float64 // share of sends that use the live channel
	TypingRate       float64 // chance a send is preceded by typing signals
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	EngineURL        string
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	AverageLatency   time.Duration
	ActiveUsers      int
	RequestSends     int
	ChannelSends     int
	TypingSignals    int
	EventsReceived   int
	ReadsMarked      int64
	RequestLatencies []time.Duration
}

// SimulatedUser is a seeded user driven by the simulator.
type SimulatedUser struct {
	ID    string
	Name  string
	Token string

	mu          sync.Mutex
	conn        *websocket.Conn
	IsConnected bool
	LastActive  time.Time
}

// ChatSimulator drives chat traffic against a running server using seeded
// users and tokens signed with the shared secret.
type ChatSimulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	dialer *websocket.Dialer
	rng    *rand.Rand
	zipf   *rand.Zipf
	rngMu  sync.Mutex
	logger zerolog.Logger
}

// NewChatSimulator prepares one simulated user per seeded user. At least two
// users are needed to have anyone to talk to.
func NewChatSimulator(config SimConfig, users []*models.User, auth *middleware.Authenticator, logger zerolog.Logger) (*ChatSimulator, error) {
	if len(users) < 2 {
		return nil, fmt.Errorf("simulation needs at least 2 users, got %d", len(users))
	}
	if config.ZipfS <= 1 {
		config.ZipfS = 1.07
	}

	simUsers := make([]*SimulatedUser, 0, len(users))
	for _, u := range users {
		token, err := auth.GenerateToken(u.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to mint token for %s: %w", u.ID, err)
		}
		simUsers = append(simUsers, &SimulatedUser{ID: u.ID, Name: u.Name, Token: token})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &ChatSimulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		users:  simUsers,
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		rng:    rng,
		// Zipf over counterpart rank: a few users get most of the traffic
		zipf:   rand.NewZipf(rng, config.ZipfS, 1, uint64(len(simUsers)-2)),
		logger: logger.With().Str("component", "simulator").Logger(),
	}, nil
}

func (s *ChatSimulator) Run(ctx context.Context) error {
	s.logger.Info().Int("users", len(s.users)).Msg("starting chat simulation")

	for _, u := range s.users {
		if err := s.connect(ctx, u); err != nil {
			s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("initial connect failed")
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	for _, u := range s.users {
		s.disconnect(u)
	}
	return nil
}

func (s *ChatSimulator) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// counterpartFor picks a partner for u, skewed towards the first users.
func (s *ChatSimulator) counterpartFor(u *SimulatedUser) *SimulatedUser {
	s.rngMu.Lock()
	rank := int(s.zipf.Uint64())
	s.rngMu.Unlock()

	for _, other := range s.users {
		if other == u {
			continue
		}
		if rank == 0 {
			return other
		}
		rank--
	}
	return s.users[0]
}

func (s *ChatSimulator) wsURL(token string) (string, error) {
	u, err := url.Parse(s.config.EngineURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func (s *ChatSimulator) connect(ctx context.Context, u *SimulatedUser) error {
	target, err := s.wsURL(u.Token)
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.conn = conn
	u.IsConnected = true
	u.LastActive = time.Now()
	u.mu.Unlock()

	go s.readEvents(u, conn)
	return nil
}

func (s *ChatSimulator) disconnect(u *SimulatedUser) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		u.conn.Close()
		u.conn = nil
	}
	u.IsConnected = false
}

// readEvents counts server events until the connection drops.
func (s *ChatSimulator) readEvents(u *SimulatedUser, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt models.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		s.stats.mu.Lock()
		s.stats.EventsReceived++
		s.stats.mu.Unlock()

		switch evt.Event {
		case models.EventError, models.EventAuthError:
			s.logger.Debug().Str("user_id", u.ID).RawJSON("data", evt.Data).Msg("server reported error")
		}
	}
}

// emit writes one client event on u's live channel.
func (s *ChatSimulator) emit(u *SimulatedUser, name string, data interface{}) error {
	evt, err := models.NewEvent(name, data)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return fmt.Errorf("user %s is not connected", u.ID)
	}
	u.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	u.LastActive = time.Now()
	return u.conn.WriteJSON(evt)
}

// Helper method to make authenticated HTTP requests
func (s *ChatSimulator) makeRequest(ctx context.Context, token, method, endpoint string, data interface{}) ([]byte, error) {
	var body []byte
	var err error

	if data != nil {
		body, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err == nil && resp.StatusCode >= 400 {
		resp.Body.Close()
		err = fmt.Errorf("%s %s failed with status: %d", method, endpoint, resp.StatusCode)
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *ChatSimulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, u := range s.users {
				u.mu.Lock()
				connected := u.IsConnected
				u.mu.Unlock()

				if connected && s.randFloat() < s.config.DisconnectRate {
					s.disconnect(u)
				} else if !connected && s.randFloat() < s.config.ReconnectRate {
					if err := s.connect(ctx, u); err != nil {
						s.logger.Debug().Err(err).Str("user_id", u.ID).Msg("reconnect failed")
					}
				}
			}
		}
	}
}

func (s *ChatSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)

	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *ChatSimulator) activeUsers() int {
	active := 0
	for _, u := range s.users {
		u.mu.Lock()
		if u.IsConnected {
			active++
		}
		u.mu.Unlock()
	}
	return active
}

func (s *ChatSimulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info().
				Float64("req_per_sec", m.RequestsPerSecond).
				Dur("avg_latency", m.AverageLatency).
				Int("active_users", m.ActiveUsers).
				Int("request_sends", m.RequestSends).
				Int("channel_sends", m.ChannelSends).
				Int("typing", m.TypingSignals).
				Int("events_received", m.EventsReceived).
				Int("errors", m.ErrorCount).
				Msg("simulation progress")
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	RequestSends      int
	ChannelSends      int
	TypingSignals     int
	EventsReceived    int
	ReadsMarked       int64
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *ChatSimulator) GetMetrics() SimulationMetrics {
	active := s.activeUsers()

	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.ActiveUsers = active

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        len(s.users),
		ActiveUsers:       active,
		RequestSends:      s.stats.RequestSends,
		ChannelSends:      s.stats.ChannelSends,
		TypingSignals:     s.stats.TypingSignals,
		EventsReceived:    s.stats.EventsReceived,
		ReadsMarked:       s.stats.ReadsMarked,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
