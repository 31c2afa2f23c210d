package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libprep/api/internal/auth"
	"libprep/api/internal/columns"
	"libprep/api/internal/config"
	"libprep/api/internal/export"
	"libprep/api/internal/gateway"
	"libprep/api/internal/gitrepo"
	"libprep/api/internal/grid"
	"libprep/api/internal/metrics"
	"libprep/api/internal/rbac"
	"libprep/api/internal/sample"
	"libprep/api/internal/search"
)

type Session struct {
	UserID   string
	UserName string
	Hospital string
	Role     rbac.Role
}

type HistoryReader interface {
	History(hospital, group string, limit int) ([]gitrepo.CommitInfo, error)
	SnapshotAt(hospital, group, hash string) (grid.Snapshot, []gitrepo.FieldChange, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	ReindexAllFromPG(ctx context.Context)
}

type Exporter interface {
	Export(ctx context.Context, table export.Table, format export.Format) (*export.Result, error)
}

// Deps wires a Service. Gateway is required; a nil History, Search or
// Export disables the matching routes.
type Deps struct {
	Config  config.Config
	Gateway *gateway.Gateway
	Policy  *columns.Policy
	History HistoryReader
	Search  Searcher
	Export  Exporter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Service struct {
	cfg      config.Config
	secret   []byte
	gateway  *gateway.Gateway
	policy   *columns.Policy
	history  HistoryReader
	search   Searcher
	exporter Exporter
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu          sync.Mutex
	workbenches map[string]*workbench
	bySubject   map[string]string
}

// workbench is one user's editing session over the cached groups of their
// hospital.
type workbench struct {
	id       string
	owner    string
	hospital string
	editor   *grid.Editor

	// switchMu keeps a group load and the editor swap that follows it
	// together.
	switchMu sync.Mutex

	errMu        sync.Mutex
	localSaveErr string
}

// WorkbenchView is the rendered state of a workbench.
type WorkbenchView struct {
	ID             string     `json:"id"`
	Hospital       string     `json:"hospital"`
	Groups         []string   `json:"groups"`
	State          grid.State `json:"state"`
	Notice         string     `json:"notice,omitempty"`
	LocalSaveError string     `json:"localSaveError,omitempty"`
}

type EventResult struct {
	Result grid.Result   `json:"result"`
	View   WorkbenchView `json:"workbench"`
}

type SaveResult struct {
	OK       bool             `json:"ok"`
	Statuses []gateway.Status `json:"statuses"`
}

type HistoryEntry struct {
	Snapshot grid.Snapshot         `json:"snapshot"`
	Changes  []gitrepo.FieldChange `json:"changes"`
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := d.Policy
	if policy == nil {
		policy = columns.Default()
	}
	return &Service{
		cfg:         d.Config,
		secret:      []byte(d.Config.TokenSecret),
		gateway:     d.Gateway,
		policy:      policy,
		history:     d.History,
		search:      d.Search,
		exporter:    d.Export,
		metrics:     d.Metrics,
		log:         log,
		workbenches: map[string]*workbench{},
		bySubject:   map[string]string{},
	}
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:   claims.Sub,
		UserName: claims.Name,
		Hospital: claims.Hospital,
		Role:     rbac.Normalize(claims.Role),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.gateway.Ping(ctx)
}

func requireAction(session Session, action rbac.Action) error {
	if rbac.Can(session.Role, action) {
		return nil
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("Role %s cannot %s", session.Role, action), nil)
}

// OpenWorkbench returns the caller's workbench, creating it on first use.
// A new workbench loads the cached groups of the hospital, pulling them
// from the remote when nothing is cached, and activates the first one.
func (s *Service) OpenWorkbench(ctx context.Context, session Session) (WorkbenchView, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return WorkbenchView{}, err
	}
	s.mu.Lock()
	if id, ok := s.bySubject[session.UserID]; ok {
		wb := s.workbenches[id]
		s.mu.Unlock()
		return s.view(ctx, wb, "")
	}
	s.mu.Unlock()

	groups, err := s.gateway.Bootstrap(ctx, session.Hospital)
	if err != nil {
		return WorkbenchView{}, err
	}

	wb := &workbench{
		id:       uuid.NewString(),
		owner:    session.UserID,
		hospital: session.Hospital,
	}
	wb.editor = grid.New(grid.Options{
		Policy:      s.policy,
		Issuer:      grid.IssuerFunc(s.gateway.IssuePoolNumber),
		Sink:        s.gateway.Sink(session.Hospital),
		OnError:     s.sinkErrorHandler(wb),
		SinkTimeout: s.cfg.SinkTimeout,
		Logger:      s.log.With(zap.String("workbench", wb.id), zap.String("hospital", session.Hospital)),
	})

	notice := ""
	if len(groups) > 0 {
		notice, err = s.activate(ctx, wb, groups[0])
		if err != nil {
			wb.editor.Close()
			return WorkbenchView{}, err
		}
	}

	s.mu.Lock()
	if id, ok := s.bySubject[session.UserID]; ok {
		// Lost a race with a concurrent open from the same user.
		existing := s.workbenches[id]
		s.mu.Unlock()
		wb.editor.Close()
		return s.view(ctx, existing, "")
	}
	s.workbenches[wb.id] = wb
	s.bySubject[session.UserID] = wb.id
	s.mu.Unlock()

	s.log.Info("workbench opened",
		zap.String("workbench", wb.id),
		zap.String("user", session.UserID),
		zap.String("hospital", session.Hospital),
		zap.Int("groups", len(groups)),
	)
	return s.view(ctx, wb, notice)
}

func (s *Service) sinkErrorHandler(wb *workbench) func(string, error) {
	return func(group string, err error) {
		s.log.Warn("local save failed",
			zap.String("workbench", wb.id),
			zap.String("group", group),
			zap.Error(err),
		)
		wb.errMu.Lock()
		wb.localSaveErr = fmt.Sprintf("Could not cache %s locally: %v", group, err)
		wb.errMu.Unlock()
	}
}

// activate loads group into the editor. The returned notice is set when
// the group has no configured columns; it is still loaded read-only.
func (s *Service) activate(ctx context.Context, wb *workbench, group string) (string, error) {
	wb.editor.Flush()
	snap, err := s.gateway.LoadGroup(ctx, wb.hospital, group)
	if err != nil {
		return "", err
	}
	if err := wb.editor.SwitchGroup(group, snap); err != nil {
		if errors.Is(err, grid.ErrNoColumns) {
			return fmt.Sprintf("No columns are configured for %s", group), nil
		}
		return "", err
	}
	return "", nil
}

func (s *Service) workbench(session Session, id string) (*workbench, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, ok := s.workbenches[id]
	if !ok || wb.owner != session.UserID {
		return nil, errWorkbenchNotFound
	}
	return wb, nil
}

func (s *Service) view(ctx context.Context, wb *workbench, notice string) (WorkbenchView, error) {
	groups, err := s.gateway.Groups(ctx, wb.hospital)
	if err != nil {
		return WorkbenchView{}, err
	}
	wb.errMu.Lock()
	localErr := wb.localSaveErr
	wb.errMu.Unlock()
	return WorkbenchView{
		ID:             wb.id,
		Hospital:       wb.hospital,
		Groups:         groups,
		State:          wb.editor.State(),
		Notice:         notice,
		LocalSaveError: localErr,
	}, nil
}

func (s *Service) GetWorkbench(ctx context.Context, session Session, id string) (WorkbenchView, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return WorkbenchView{}, err
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return WorkbenchView{}, err
	}
	return s.view(ctx, wb, "")
}

// SwitchGroup makes group the active tab of the workbench.
func (s *Service) SwitchGroup(ctx context.Context, session Session, id, group string) (WorkbenchView, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return WorkbenchView{}, err
	}
	group = strings.TrimSpace(group)
	if group == "" {
		return WorkbenchView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "group is required", nil)
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return WorkbenchView{}, err
	}

	wb.switchMu.Lock()
	notice, err := s.activate(ctx, wb, group)
	wb.switchMu.Unlock()
	if err != nil {
		return WorkbenchView{}, err
	}
	return s.view(ctx, wb, notice)
}

// RemoveGroup drops a cached group. Removing the active group activates
// the first remaining one, or leaves the editor empty.
func (s *Service) RemoveGroup(ctx context.Context, session Session, id, group string) (WorkbenchView, error) {
	if err := requireAction(session, rbac.ActionEdit); err != nil {
		return WorkbenchView{}, err
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return WorkbenchView{}, err
	}

	wb.switchMu.Lock()
	defer wb.switchMu.Unlock()
	wb.editor.Flush()
	if err := s.gateway.RemoveGroup(ctx, wb.hospital, group); err != nil {
		return WorkbenchView{}, err
	}
	notice := ""
	if wb.editor.Group() == group {
		remaining, err := s.gateway.Groups(ctx, wb.hospital)
		if err != nil {
			return WorkbenchView{}, err
		}
		if len(remaining) > 0 {
			if notice, err = s.activate(ctx, wb, remaining[0]); err != nil {
				return WorkbenchView{}, err
			}
		} else if err := wb.editor.SwitchGroup("", grid.Snapshot{}); err != nil && !errors.Is(err, grid.ErrNoColumns) {
			return WorkbenchView{}, err
		}
	}
	return s.view(ctx, wb, notice)
}

func eventAction(ev grid.Event) rbac.Action {
	switch ev.(type) {
	case grid.FinalizePool, grid.EditPool:
		return rbac.ActionPool
	case grid.Edit, grid.Paste, grid.BulkFill, grid.KeyDown:
		return rbac.ActionEdit
	default:
		return rbac.ActionRead
	}
}

// Dispatch decodes and applies one grid event.
func (s *Service) Dispatch(ctx context.Context, session Session, id string, raw []byte) (EventResult, error) {
	wb, err := s.workbench(session, id)
	if err != nil {
		return EventResult{}, err
	}
	ev, err := grid.DecodeEvent(raw)
	if err != nil {
		s.metrics.GridEvent("invalid", err)
		if errors.Is(err, grid.ErrUnknownEvent) {
			return EventResult{}, err
		}
		return EventResult{}, domainError(http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	}
	if err := requireAction(session, eventAction(ev)); err != nil {
		return EventResult{}, err
	}

	result, err := wb.editor.Dispatch(ctx, ev)
	s.metrics.GridEvent(ev.Kind(), err)
	if err != nil {
		return EventResult{}, err
	}
	view, err := s.view(ctx, wb, "")
	if err != nil {
		return EventResult{}, err
	}
	return EventResult{Result: result, View: view}, nil
}

// Save pushes the active group to the remote store. A failed save is a
// status, not an error: the editor keeps its state either way.
func (s *Service) Save(ctx context.Context, session Session, id string) (SaveResult, error) {
	if err := requireAction(session, rbac.ActionSave); err != nil {
		return SaveResult{}, err
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return SaveResult{}, err
	}
	group := wb.editor.Group()
	if group == "" {
		return SaveResult{}, domainError(http.StatusBadRequest, "NO_GROUP", "No group is open", nil)
	}
	status := s.gateway.SaveGroup(ctx, wb.hospital, group, session.UserName, wb.editor.Snapshot())
	return SaveResult{OK: status.OK(), Statuses: []gateway.Status{status}}, nil
}

// SaveAll pushes every cached group. Background writes are drained and
// the active group is written to the local store before reading it back.
func (s *Service) SaveAll(ctx context.Context, session Session, id string) (SaveResult, error) {
	if err := requireAction(session, rbac.ActionSave); err != nil {
		return SaveResult{}, err
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return SaveResult{}, err
	}
	wb.editor.Flush()
	if group := wb.editor.Group(); group != "" {
		if err := s.gateway.SaveLocal(ctx, wb.hospital, group, wb.editor.Snapshot()); err != nil {
			return SaveResult{}, err
		}
	}
	statuses, err := s.gateway.SaveAll(ctx, wb.hospital, session.UserName)
	if err != nil && !errors.Is(err, gateway.ErrPartialSave) {
		return SaveResult{}, err
	}
	return SaveResult{OK: err == nil, Statuses: statuses}, nil
}

// Export renders the visible columns of the active group.
func (s *Service) Export(ctx context.Context, session Session, id string, format export.Format) (*export.Result, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusNotImplemented, "EXPORT_DISABLED", "Export is not configured", nil)
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return nil, err
	}
	state := wb.editor.State()
	if state.Group == "" {
		return nil, domainError(http.StatusBadRequest, "NO_GROUP", "No group is open", nil)
	}
	return s.exporter.Export(ctx, export.Table{
		Hospital:    wb.hospital,
		Group:       state.Group,
		Columns:     state.Columns.Visible,
		Labels:      state.Labels,
		Rows:        state.Rows,
		GeneratedAt: time.Now(),
	}, format)
}

func (s *Service) History(_ context.Context, session Session, id string, limit int) ([]gitrepo.CommitInfo, error) {
	wb, group, err := s.historyTarget(session, id)
	if err != nil {
		return nil, err
	}
	return s.history.History(wb.hospital, group, limit)
}

func (s *Service) HistoryEntry(_ context.Context, session Session, id, hash string) (HistoryEntry, error) {
	wb, group, err := s.historyTarget(session, id)
	if err != nil {
		return HistoryEntry{}, err
	}
	snap, changes, err := s.history.SnapshotAt(wb.hospital, group, hash)
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{Snapshot: snap, Changes: changes}, nil
}

func (s *Service) historyTarget(session Session, id string) (*workbench, string, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, "", err
	}
	if s.history == nil {
		return nil, "", domainError(http.StatusNotImplemented, "HISTORY_DISABLED", "History is not configured", nil)
	}
	wb, err := s.workbench(session, id)
	if err != nil {
		return nil, "", err
	}
	group := wb.editor.Group()
	if group == "" {
		return nil, "", domainError(http.StatusBadRequest, "NO_GROUP", "No group is open", nil)
	}
	return wb, group, nil
}

func (s *Service) Search(ctx context.Context, session Session, text, testName string, limit, offset int) (search.Response, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:     text,
		Hospital: session.Hospital,
		TestName: testName,
		Limit:    limit,
		Offset:   offset,
	}), nil
}

// Reindex rebuilds the search index from the remote store in the
// background.
func (s *Service) Reindex(session Session) error {
	if err := requireAction(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if s.search == nil {
		return domainError(http.StatusNotImplemented, "SEARCH_DISABLED", "Search is not configured", nil)
	}
	go s.search.ReindexAllFromPG(context.Background())
	return nil
}

func (s *Service) scopeHospital(session Session, hospital string) (string, error) {
	hospital = strings.TrimSpace(hospital)
	if hospital == "" {
		return session.Hospital, nil
	}
	if hospital != session.Hospital && session.Role != rbac.RoleAdmin {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Cannot access another hospital's samples", nil)
	}
	return hospital, nil
}

// PoolData lists remote rows of a hospital filtered by group and sample ids.
func (s *Service) PoolData(ctx context.Context, session Session, hospital, group string, sampleIDs []string) ([]sample.Row, error) {
	if err := requireAction(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	hospital, err := s.scopeHospital(session, hospital)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListRemote(ctx, hospital, group, sampleIDs)
}

func (s *Service) SavePoolData(ctx context.Context, session Session, hospital, group string, rows []sample.Row) (gateway.Status, error) {
	if err := requireAction(session, rbac.ActionSave); err != nil {
		return gateway.Status{}, err
	}
	hospital, err := s.scopeHospital(session, hospital)
	if err != nil {
		return gateway.Status{}, err
	}
	return s.gateway.SaveRemote(ctx, hospital, group, rows), nil
}

func (s *Service) PoolNumber(ctx context.Context, session Session) (string, error) {
	if err := requireAction(session, rbac.ActionPool); err != nil {
		return "", err
	}
	return s.gateway.IssuePoolNumber(ctx)
}

// CloseWorkbench stops the editor and forgets the workbench.
func (s *Service) CloseWorkbench(session Session, id string) error {
	wb, err := s.workbench(session, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.workbenches, wb.id)
	delete(s.bySubject, wb.owner)
	s.mu.Unlock()
	wb.editor.Close()
	return nil
}

// Close stops every editor, waiting for pending local writes.
func (s *Service) Close() {
	s.mu.Lock()
	open := make([]*workbench, 0, len(s.workbenches))
	for _, wb := range s.workbenches {
		open = append(open, wb)
	}
	s.workbenches = map[string]*workbench{}
	s.bySubject = map[string]string{}
	s.mu.Unlock()
	for _, wb := range open {
		wb.editor.Close()
	}
}
