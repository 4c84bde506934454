// Package backend is an in-memory middleware: it keeps one wallet and its
// accounts in process and answers every command of the schema. It is what
// `mwbridge serve` runs, and what the client tests talk to.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mw-bridge/pb"
	"mw-bridge/server"
	"mw-bridge/service"
)

// Publisher broadcasts events to connected clients. *server.Server
// implements it.
type Publisher interface {
	Publish(ev *pb.Event) error
}

const mnemonicWords = 12

// Backend holds wallet and account state. All methods are safe for
// concurrent use.
type Backend struct {
	pub     Publisher
	logger  *zap.Logger
	version string
	dataDir string
	newID   func() string

	mu       sync.Mutex
	root     string
	mnemonic string
	accounts []*pb.Account
	selected string
	images   map[string][]byte
}

type Option func(*Backend)

func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithVersion(v string) Option {
	return func(b *Backend) { b.version = v }
}

// WithDataDir resolves relative wallet root paths under dir.
func WithDataDir(dir string) Option {
	return func(b *Backend) { b.dataDir = dir }
}

// WithIDGenerator replaces the uuid-based account and image ids.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) { b.newID = fn }
}

func New(pub Publisher, opts ...Option) *Backend {
	b := &Backend{
		pub:     pub,
		logger:  zap.NewNop(),
		version: "dev",
		newID:   uuid.NewString,
		images:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("backend")
	return b
}

// Install registers a handler for every command on svr.
func (b *Backend) Install(svr *server.Server) {
	server.Register(svr, service.Ping, b.Ping)
	server.Register(svr, service.WalletCreate, b.WalletCreate)
	server.Register(svr, service.WalletRecover, b.WalletRecover)
	server.Register(svr, service.AccountCreate, b.AccountCreate)
	server.Register(svr, service.AccountRecover, b.AccountRecover)
	server.Register(svr, service.AccountSelect, b.AccountSelect)
	server.Register(svr, service.ImageGetBlob, b.ImageGetBlob)
	server.Register(svr, service.GetVersion, b.GetVersion)
	server.Register(svr, service.Log, b.Log)
}

func (b *Backend) rootPath(p string) string {
	if b.dataDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.dataDir, p)
}

func fail(code pb.ErrorCode, format string, args ...any) *pb.ResponseError {
	return &pb.ResponseError{Code: code, Description: fmt.Sprintf(format, args...)}
}

func (b *Backend) publish(ev *pb.Event) {
	if b.pub == nil {
		return
	}
	if err := b.pub.Publish(ev); err != nil {
		b.logger.Warn("publish event", zap.Error(err))
	}
}

// Ping echoes the request and pushes NumberOfEventsToSend ping events
// before replying, indexed from zero.
func (b *Backend) Ping(ctx context.Context, req *pb.PingRequest) (*pb.PingResponse, error) {
	if req.NumberOfEventsToSend < 0 {
		return &pb.PingResponse{Error: fail(pb.ErrorCodeBadInput, "numberOfEventsToSend must not be negative")}, nil
	}
	for i := int32(0); i < req.NumberOfEventsToSend; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.publish(&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: i}}})
	}
	return &pb.PingResponse{Index: req.Index, NumberOfEventsToSend: req.NumberOfEventsToSend}, nil
}

func (b *Backend) WalletCreate(_ context.Context, req *pb.WalletCreateRequest) (*pb.WalletCreateResponse, error) {
	if req.RootPath == "" {
		return &pb.WalletCreateResponse{Error: fail(pb.ErrorCodeBadInput, "rootPath is empty")}, nil
	}
	root := b.rootPath(req.RootPath)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return &pb.WalletCreateResponse{Error: fail(pb.ErrorCodeFailedToCreate, "create root path: %v", err)}, nil
	}
	mnemonic, err := NewMnemonic(mnemonicWords)
	if err != nil {
		return &pb.WalletCreateResponse{Error: fail(pb.ErrorCodeUnknownError, "generate mnemonic: %v", err)}, nil
	}

	b.mu.Lock()
	b.root = root
	b.mnemonic = mnemonic
	b.accounts = nil
	b.selected = ""
	b.mu.Unlock()

	b.logger.Info("wallet created", zap.String("root", root))
	return &pb.WalletCreateResponse{Mnemonic: mnemonic}, nil
}

func (b *Backend) WalletRecover(_ context.Context, req *pb.WalletRecoverRequest) (*pb.WalletRecoverResponse, error) {
	if req.RootPath == "" {
		return &pb.WalletRecoverResponse{Error: fail(pb.ErrorCodeBadInput, "rootPath is empty")}, nil
	}
	if err := ValidateMnemonic(req.Mnemonic); err != nil {
		return &pb.WalletRecoverResponse{Error: fail(pb.ErrorCodeBadInput, "%v", err)}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mnemonic != "" && b.mnemonic != normalizeMnemonic(req.Mnemonic) {
		// A different wallet: accounts of the old one do not carry over.
		b.accounts = nil
		b.selected = ""
	}
	b.root = b.rootPath(req.RootPath)
	b.mnemonic = normalizeMnemonic(req.Mnemonic)
	return &pb.WalletRecoverResponse{}, nil
}

func (b *Backend) AccountCreate(_ context.Context, req *pb.AccountCreateRequest) (*pb.AccountCreateResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return &pb.AccountCreateResponse{Error: fail(pb.ErrorCodeBadInput, "account name is empty")}, nil
	}

	var avatar []byte
	if req.AvatarLocalPath != "" {
		data, err := os.ReadFile(req.AvatarLocalPath)
		if err != nil {
			return &pb.AccountCreateResponse{Error: fail(pb.ErrorCodeFailedToCreate, "read avatar: %v", err)}, nil
		}
		avatar = data
	}

	b.mu.Lock()
	if b.mnemonic == "" {
		b.mu.Unlock()
		return &pb.AccountCreateResponse{Error: fail(pb.ErrorCodeBadInput, "wallet is not initialized")}, nil
	}
	account := &pb.Account{Id: b.newID(), Name: req.Name}
	if avatar != nil {
		imageID := b.newID()
		b.images[imageID] = avatar
		account.Avatar = &pb.Image{Id: imageID}
	}
	index := int64(len(b.accounts))
	b.accounts = append(b.accounts, account)
	b.mu.Unlock()

	b.publish(&pb.Event{Message: &pb.EventAccountAdd{AccountAdd: &pb.AccountAdd{Index: index, Account: account}}})
	return &pb.AccountCreateResponse{Account: account}, nil
}

// AccountRecover announces every account of the wallet again, one
// AccountAdd event each.
func (b *Backend) AccountRecover(_ context.Context, _ *pb.AccountRecoverRequest) (*pb.AccountRecoverResponse, error) {
	b.mu.Lock()
	if b.mnemonic == "" {
		b.mu.Unlock()
		return &pb.AccountRecoverResponse{Error: fail(pb.ErrorCodeBadInput, "wallet is not initialized")}, nil
	}
	accounts := append([]*pb.Account(nil), b.accounts...)
	b.mu.Unlock()

	if len(accounts) == 0 {
		return &pb.AccountRecoverResponse{Error: fail(pb.ErrorCodeNotFound, "no accounts in wallet")}, nil
	}
	for i, account := range accounts {
		b.publish(&pb.Event{Message: &pb.EventAccountAdd{AccountAdd: &pb.AccountAdd{Index: int64(i), Account: account}}})
	}
	return &pb.AccountRecoverResponse{}, nil
}

func (b *Backend) AccountSelect(_ context.Context, req *pb.AccountSelectRequest) (*pb.AccountSelectResponse, error) {
	if req.Id == "" {
		return &pb.AccountSelectResponse{Error: fail(pb.ErrorCodeBadInput, "account id is empty")}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, account := range b.accounts {
		if account.Id == req.Id {
			b.selected = account.Id
			return &pb.AccountSelectResponse{Account: account}, nil
		}
	}
	return &pb.AccountSelectResponse{Error: fail(pb.ErrorCodeNotFound, "account %s not found", req.Id)}, nil
}

// ImageGetBlob returns the stored image. Every size is served from the
// original bytes.
func (b *Backend) ImageGetBlob(_ context.Context, req *pb.ImageGetBlobRequest) (*pb.ImageGetBlobResponse, error) {
	if req.Id == "" {
		return &pb.ImageGetBlobResponse{Error: fail(pb.ErrorCodeBadInput, "image id is empty")}, nil
	}
	b.mu.Lock()
	blob, ok := b.images[req.Id]
	b.mu.Unlock()
	if !ok {
		return &pb.ImageGetBlobResponse{Error: fail(pb.ErrorCodeNotFound, "image %s not found", req.Id)}, nil
	}
	return &pb.ImageGetBlobResponse{Blob: blob}, nil
}

func (b *Backend) GetVersion(context.Context, *pb.GetVersionRequest) (*pb.GetVersionResponse, error) {
	return &pb.GetVersionResponse{Version: b.version}, nil
}

// Log writes a client-supplied message to the backend log. FATAL and PANIC
// are logged at error level; a client cannot stop the process.
func (b *Backend) Log(_ context.Context, req *pb.LogRequest) (*pb.LogResponse, error) {
	fields := []zap.Field{zap.String("client_level", req.Level.String())}
	switch req.Level {
	case pb.LogLevelDebug:
		b.logger.Debug(req.Message, fields...)
	case pb.LogLevelInfo:
		b.logger.Info(req.Message, fields...)
	case pb.LogLevelWarning:
		b.logger.Warn(req.Message, fields...)
	case pb.LogLevelError, pb.LogLevelFatal, pb.LogLevelPanic:
		b.logger.Error(req.Message, fields...)
	default:
		return &pb.LogResponse{Error: fail(pb.ErrorCodeBadInput, "unknown log level %d", int32(req.Level))}, nil
	}
	return &pb.LogResponse{}, nil
}

// WalletRoot returns the root path of the current wallet.
func (b *Backend) WalletRoot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root
}

// SelectedAccount returns the id chosen by the last AccountSelect.
func (b *Backend) SelectedAccount() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

var errBadMnemonic = errors.New("mnemonic must have 12 words")
