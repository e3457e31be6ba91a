package action

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Blocklist is the enforcement point block_ip talks to. Production wires
// a firewall or EDR integration.
type Blocklist interface {
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
}

// BlockIPAction adds an address to the blocklist. It compensates by
// unblocking, so a playbook rollback reverses the containment.
//
// Inputs: ip (required). Outputs: ip, blocked.
type BlockIPAction struct {
	blocklist Blocklist
	logger    *slog.Logger
}

// NewBlockIPAction creates the block_ip action.
func NewBlockIPAction(blocklist Blocklist, logger *slog.Logger) *BlockIPAction {
	return &BlockIPAction{blocklist: blocklist, logger: logger}
}

func (a *BlockIPAction) ID() string { return "block_ip" }

func (a *BlockIPAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	ip, err := stringInput(inputs, "ip")
	if err != nil {
		return nil, err
	}
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("action: invalid ip address %q", ip)
	}

	if err := a.blocklist.Block(ctx, ip); err != nil {
		return nil, fmt.Errorf("action: block %s: %w", ip, err)
	}

	a.logger.Info("ip blocked", "ip", ip)
	return map[string]any{"ip": ip, "blocked": true}, nil
}

// Compensate removes the block placed by Execute.
func (a *BlockIPAction) Compensate(ctx context.Context, inputs, outputs map[string]any) error {
	ip, err := stringInput(inputs, "ip")
	if err != nil {
		return err
	}
	if err := a.blocklist.Unblock(ctx, ip); err != nil {
		return fmt.Errorf("action: unblock %s: %w", ip, err)
	}
	a.logger.Info("ip unblocked", "ip", ip)
	return nil
}

// MemoryBlocklist is an in-process Blocklist for tests and development.
type MemoryBlocklist struct {
	mu      sync.Mutex
	blocked map[string]bool
}

// NewMemoryBlocklist creates an empty blocklist.
func NewMemoryBlocklist() *MemoryBlocklist {
	return &MemoryBlocklist{blocked: make(map[string]bool)}
}

func (b *MemoryBlocklist) Block(ctx context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[ip] = true
	return nil
}

func (b *MemoryBlocklist) Unblock(ctx context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, ip)
	return nil
}

// IsBlocked reports whether an address is currently blocked.
func (b *MemoryBlocklist) IsBlocked(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked[ip]
}
