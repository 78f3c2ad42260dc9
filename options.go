package nats

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Default tunables, named after the C client's constants they mirror.
const (
	DefaultURL             = "nats://127.0.0.1:4222"
	DefaultPingInterval    = 2 * time.Minute
	DefaultMaxPingsOut     = 2
	DefaultMaxReconnect    = 60
	DefaultReconnectWait   = 2 * time.Second
	DefaultReconnectJitter = 100 * time.Millisecond
	DefaultTimeout         = 2 * time.Second
	DefaultMaxPendingBytes = 8 * 1024 * 1024
	DefaultWriteDeadline   = 2 * time.Second
)

// ConnectionOptions collects every recognized option for Connect, per
// spec.md §9's "Dynamic configuration objects" table.
type ConnectionOptions struct {
	URL     string
	Servers []string

	Name     string
	Verbose  bool
	Pedantic bool

	Timeout      time.Duration
	PingInterval time.Duration
	MaxPingsOut  int

	MaxReconnectAttempts int // negative means unlimited
	ReconnectWait        time.Duration
	ReconnectJitter      time.Duration
	AllowReconnect       bool
	NoRandomize          bool

	MaxPendingBytes int

	User      string
	Password  string
	Token     string
	CredsFile string

	TLSConfig         *tls.Config
	TLSHandshakeFirst bool

	WriteDeadline            time.Duration
	UseGlobalMessageDelivery bool

	Logger zerolog.Logger

	ErrorHandler        AsyncErrHandler
	DisconnectedCb      ConnHandler
	ReconnectedCb       ConnHandler
	ClosedCb            ConnHandler
	DiscoveredServersCb ConnHandler

	metrics *Metrics
}

// AsyncErrHandler is invoked on the async event thread for per-subscription
// and per-connection errors (slow consumer, stale connection, sequence
// mismatch, missed heartbeat, ...).
type AsyncErrHandler func(nc *Conn, sub *Subscription, err error)

// ConnHandler is invoked on the async event thread for connection
// lifecycle transitions (disconnected, reconnected, closed, discovered
// servers).
type ConnHandler func(nc *Conn)

// Option mutates a ConnectionOptions in place; Connect applies Options in
// order after seeding defaults.
type Option func(*ConnectionOptions)

func defaultOptions() ConnectionOptions {
	return ConnectionOptions{
		URL:                  DefaultURL,
		Timeout:              DefaultTimeout,
		PingInterval:         DefaultPingInterval,
		MaxPingsOut:          DefaultMaxPingsOut,
		MaxReconnectAttempts: DefaultMaxReconnect,
		ReconnectWait:        DefaultReconnectWait,
		ReconnectJitter:      DefaultReconnectJitter,
		AllowReconnect:       true,
		MaxPendingBytes:      DefaultMaxPendingBytes,
		WriteDeadline:        DefaultWriteDeadline,
		Logger:               zerolog.Nop(),
	}
}

func Name(name string) Option              { return func(o *ConnectionOptions) { o.Name = name } }
func Timeout(d time.Duration) Option       { return func(o *ConnectionOptions) { o.Timeout = d } }
func PingInterval(d time.Duration) Option  { return func(o *ConnectionOptions) { o.PingInterval = d } }
func MaxPingsOutstanding(n int) Option     { return func(o *ConnectionOptions) { o.MaxPingsOut = n } }
func MaxReconnects(n int) Option           { return func(o *ConnectionOptions) { o.MaxReconnectAttempts = n } }
func ReconnectWait(d time.Duration) Option { return func(o *ConnectionOptions) { o.ReconnectWait = d } }
func ReconnectJitter(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.ReconnectJitter = d }
}
func NoRandomize() Option   { return func(o *ConnectionOptions) { o.NoRandomize = true } }
func DontReconnect() Option { return func(o *ConnectionOptions) { o.AllowReconnect = false } }
func UserInfo(user, pass string) Option {
	return func(o *ConnectionOptions) { o.User = user; o.Password = pass }
}
func Token(tok string) Option { return func(o *ConnectionOptions) { o.Token = tok } }
func Secure(cfg *tls.Config) Option {
	return func(o *ConnectionOptions) { o.TLSConfig = cfg }
}
func TLSHandshakeFirst() Option {
	return func(o *ConnectionOptions) { o.TLSHandshakeFirst = true }
}
func UserCredentials(credsFile string) Option {
	return func(o *ConnectionOptions) { o.CredsFile = credsFile }
}
func WriteDeadline(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.WriteDeadline = d }
}
func Logger(l zerolog.Logger) Option { return func(o *ConnectionOptions) { o.Logger = l } }
func ErrorHandler(cb AsyncErrHandler) Option {
	return func(o *ConnectionOptions) { o.ErrorHandler = cb }
}
func DisconnectHandler(cb ConnHandler) Option {
	return func(o *ConnectionOptions) { o.DisconnectedCb = cb }
}
func ReconnectHandler(cb ConnHandler) Option {
	return func(o *ConnectionOptions) { o.ReconnectedCb = cb }
}
func ClosedHandler(cb ConnHandler) Option { return func(o *ConnectionOptions) { o.ClosedCb = cb } }
func DiscoveredServersHandler(cb ConnHandler) Option {
	return func(o *ConnectionOptions) { o.DiscoveredServersCb = cb }
}

// connectJWTAndSig checks that a `.creds` file's raw JWT is well-formed and
// returns it unchanged for the CONNECT frame's `jwt` field (spec.md §6). It
// does not sign the server-issued nonce; the `sig` field is whatever value
// the caller already holds. NKey signing is out of this module's scope
// (spec.md §1 lists NKey/option-object construction as assumed external
// collaborators).
func connectJWTAndSig(rawJWT string) (string, error) {
	if rawJWT == "" {
		return "", nil
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(rawJWT, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse user jwt: %w", err)
	}
	return rawJWT, nil
}

// SubscriptionOptions collects the per-subscription options (spec.md §9).
type SubscriptionOptions struct {
	Queue string

	PendingMsgsLimit  int
	PendingBytesLimit int

	AutoUnsubscribeMax int

	Timeout time.Duration

	OnCompleteCb func()

	// UseSharedDispatcher forces a shared thread-pool dispatcher instead of
	// a dedicated one regardless of the library's default (spec.md §5).
	UseSharedDispatcher bool
}

func defaultSubOptions() SubscriptionOptions {
	return SubscriptionOptions{
		PendingMsgsLimit:  DefaultSubPendingMsgsLimit,
		PendingBytesLimit: DefaultSubPendingBytesLimit,
	}
}

const (
	DefaultSubPendingMsgsLimit  = 65536
	DefaultSubPendingBytesLimit = 64 * 1024 * 1024
)

// SubOption mutates SubscriptionOptions; QueueSubscribe forces Queue.
type SubOption func(*SubscriptionOptions)

func PendingLimits(msgs, bytes int) SubOption {
	return func(o *SubscriptionOptions) { o.PendingMsgsLimit = msgs; o.PendingBytesLimit = bytes }
}
func AutoUnsubscribe(max int) SubOption {
	return func(o *SubscriptionOptions) { o.AutoUnsubscribeMax = max }
}
func SubTimeout(d time.Duration) SubOption {
	return func(o *SubscriptionOptions) { o.Timeout = d }
}
func OnComplete(cb func()) SubOption {
	return func(o *SubscriptionOptions) { o.OnCompleteCb = cb }
}
func UseSharedDispatcher() SubOption {
	return func(o *SubscriptionOptions) { o.UseSharedDispatcher = true }
}
