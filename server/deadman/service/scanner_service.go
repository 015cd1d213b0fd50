package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"deadman_server/server/common/log"
	"deadman_server/server/common/metrics"
	"deadman_server/server/deadman/domain"
)

const scannerLeaderKey = "deadman:scanner:leader"

type trackedUserSource interface {
	ListTrackedUserIDs(ctx context.Context) ([]string, error)
}

type settingsReader interface {
	GetOrCreate(ctx context.Context, userID string) (domain.InactivitySettings, error)
}

type statusComputer interface {
	Status(ctx context.Context, userID string) (domain.ActivityStatus, error)
}

type userEscalator interface {
	EvaluateUser(ctx context.Context, status domain.ActivityStatus) (string, error)
}

type attentionQueue interface {
	NeedingAttention(ctx context.Context) ([]domain.HandoverProcess, error)
	ProcessAttention(ctx context.Context, proc domain.HandoverProcess) error
}

type systemStatusReader interface {
	Current(ctx context.Context) (string, error)
}

// ScannerService is the periodic sweep engine: it walks every tracked user in
// fixed-size batches, evaluates each one, then works the handover attention
// queue. Users within a batch are checked concurrently with independent
// failure containment; batches run strictly in sequence with a pause between
// them to bound downstream load.
type ScannerService struct {
	users      trackedUserSource
	settings   settingsReader
	activity   statusComputer
	escalation userEscalator
	handovers  attentionQueue
	system     systemStatusReader
	redis      *redis.Client

	interval   time.Duration
	batchSize  int
	batchDelay time.Duration
	instanceID string
	now        func() time.Time

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	activeUsers int
}

func NewScannerService(users trackedUserSource, settings settingsReader, activity statusComputer, escalation userEscalator, handovers attentionQueue, system systemStatusReader, redisClient *redis.Client, interval time.Duration, batchSize int, batchDelay time.Duration) *ScannerService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if batchDelay < 0 {
		batchDelay = time.Second
	}
	return &ScannerService{
		users:      users,
		settings:   settings,
		activity:   activity,
		escalation: escalation,
		handovers:  handovers,
		system:     system,
		redis:      redisClient,
		interval:   interval,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		instanceID: uuid.NewString(),
		now:        time.Now,
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval.
// Duplicate starts are logged no-ops.
func (s *ScannerService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Infof("event=scanner action=start status=noop reason=already_running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	log.Infof("event=scanner action=start interval=%s batch_size=%d instance_id=%s", s.interval, s.batchSize, s.instanceID)
	go s.run(ctx)
}

// Stop clears the schedule. An in-flight sweep is not aborted; sweeps are
// short-lived and self-contained.
func (s *ScannerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		log.Infof("event=scanner action=stop status=noop reason=not_running")
		return
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	log.Infof("event=scanner action=stop instance_id=%s", s.instanceID)
}

func (s *ScannerService) run(ctx context.Context) {
	s.Sweep(context.Background())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep checks all tracked users once. With redis configured, only the
// instance holding the leader lease sweeps, so multiple replicas never run
// overlapping scans.
func (s *ScannerService) Sweep(ctx context.Context) {
	if !s.acquireLease(ctx) {
		log.Infof("event=scanner action=sweep status=skipped reason=lease_held_elsewhere instance_id=%s", s.instanceID)
		return
	}
	metrics.IncSweep()

	current, err := s.system.Current(ctx)
	if err != nil {
		log.Warnf("event=scanner action=load_system_status status=degraded error=%v", err)
	}
	if current == domain.SystemMaintenance || current == domain.SystemOutage {
		log.Infof("event=scanner action=sweep status=skipped reason=system_%s", current)
		return
	}

	userIDs, err := s.users.ListTrackedUserIDs(ctx)
	if err != nil {
		log.Errorf("event=scanner action=load_users status=failed error=%v", err)
		return
	}
	s.mu.Lock()
	s.activeUsers = len(userIDs)
	s.mu.Unlock()

	started := s.now()
	for start := 0; start < len(userIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		s.checkBatch(ctx, userIDs[start:end])
		if end < len(userIDs) {
			time.Sleep(s.batchDelay)
			s.refreshLease(ctx)
		}
	}

	s.processHandovers(ctx)
	log.Infof("event=scanner action=sweep status=done users=%d took=%s", len(userIDs), s.now().Sub(started))
}

func (s *ScannerService) checkBatch(ctx context.Context, userIDs []string) {
	var wg sync.WaitGroup
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.IncUserCheck("panic")
					log.Errorf("event=scanner action=check_user status=panic user_id=%s recovered=%v", userID, r)
				}
			}()
			s.CheckUser(ctx, userID)
		}(userID)
	}
	wg.Wait()
}

// CheckUser evaluates one user. All errors are contained here; nothing
// propagates to the batch.
func (s *ScannerService) CheckUser(ctx context.Context, userID string) {
	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		metrics.IncUserCheck("error")
		log.Errorf("event=scanner action=check_user status=failed user_id=%s stage=settings error=%v", userID, err)
		return
	}
	if settings.IsPaused {
		if settings.PausedUntil == nil || s.now().Before(*settings.PausedUntil) {
			metrics.IncUserCheck("paused")
			return
		}
	}

	status, err := s.activity.Status(ctx, userID)
	if err != nil {
		metrics.IncUserCheck("error")
		log.Errorf("event=scanner action=check_user status=failed user_id=%s stage=status error=%v", userID, err)
		return
	}

	action, err := s.escalation.EvaluateUser(ctx, status)
	if err != nil {
		metrics.IncUserCheck("error")
		log.Errorf("event=scanner action=check_user status=failed user_id=%s stage=escalation error=%v", userID, err)
		return
	}
	metrics.IncUserCheck(action)
}

func (s *ScannerService) processHandovers(ctx context.Context) {
	processes, err := s.handovers.NeedingAttention(ctx)
	if err != nil {
		log.Errorf("event=scanner action=load_handovers status=failed error=%v", err)
		return
	}
	for _, proc := range processes {
		if err := s.handovers.ProcessAttention(ctx, proc); err != nil {
			log.Errorf("event=scanner action=process_handover status=failed process_id=%s error=%v", proc.ProcessID, err)
		}
	}
}

func (s *ScannerService) acquireLease(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}
	ttl := 2 * s.interval
	ok, err := s.redis.SetNX(ctx, scannerLeaderKey, s.instanceID, ttl).Result()
	if err != nil {
		// Degrading to an unguarded sweep is safe: every state-changing
		// write is a conditional update.
		log.Warnf("event=scanner action=acquire_lease status=degraded error=%v", err)
		return true
	}
	if ok {
		return true
	}
	holder, err := s.redis.Get(ctx, scannerLeaderKey).Result()
	if err == nil && holder == s.instanceID {
		s.redis.Expire(ctx, scannerLeaderKey, ttl)
		return true
	}
	return false
}

func (s *ScannerService) refreshLease(ctx context.Context) {
	if s.redis == nil {
		return
	}
	s.redis.Expire(ctx, scannerLeaderKey, 2*s.interval)
}

func (s *ScannerService) Stats(ctx context.Context) domain.ScannerStats {
	s.mu.Lock()
	running := s.running
	activeUsers := s.activeUsers
	s.mu.Unlock()

	systemStatus, err := s.system.Current(ctx)
	if err != nil {
		log.Warnf("event=scanner action=stats status=degraded error=%v", err)
		systemStatus = ""
	}
	return domain.ScannerStats{
		IsRunning:     running,
		CheckInterval: s.interval,
		ActiveUsers:   activeUsers,
		SystemStatus:  systemStatus,
	}
}
