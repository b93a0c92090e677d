package group

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
)

// DefaultGroupName is the group joined when none is configured.
const DefaultGroupName = "arc"

// Transport profiles map to memberlist's tuned defaults.
const (
	ProfileLAN   = "lan"
	ProfileWAN   = "wan"
	ProfileLocal = "local"
)

// Config holds group transport configuration.
type Config struct {
	// GroupName isolates clusters: nodes only exchange packets with members
	// that were configured with the same name (default: "arc").
	GroupName string

	// Profile selects memberlist timing defaults: lan (default), wan or local.
	Profile string

	// NodeName is this node's unique name and its address within the group.
	// Defaults to the hostname.
	NodeName string

	// BindAddr is the address to bind for gossip (default: "0.0.0.0").
	BindAddr string

	// BindPort is the port for gossip. 0 lets the OS pick a free port.
	BindPort int

	// AdvertiseAddr is the address to advertise to other nodes (for containers/NAT).
	AdvertiseAddr string

	// AdvertisePort is the port to advertise (0 = same as BindPort).
	AdvertisePort int

	// Seeds are the addresses of members to join on Connect.
	Seeds []string

	// Workers bounds concurrently handled inbound requests (default: 16).
	Workers int

	// QueueDepth bounds inbound requests waiting for a worker; requests
	// arriving at a full queue are dropped (default: 4 * Workers).
	QueueDepth int

	// Fanout bounds concurrent sends of one broadcast (default: 8).
	Fanout int

	// LeaveTimeout bounds the graceful leave on Close (default: 5s).
	LeaveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GroupName == "" {
		c.GroupName = DefaultGroupName
	}
	if c.Profile == "" {
		c.Profile = ProfileLAN
	}
	if c.BindAddr == "" {
		c.BindAddr = "0.0.0.0"
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 4 * c.Workers
	}
	if c.Fanout <= 0 {
		c.Fanout = 8
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 5 * time.Second
	}
	return c
}

// memberlistConfig returns the memberlist defaults for a profile.
func memberlistConfig(profile string) (*memberlist.Config, error) {
	switch profile {
	case ProfileLAN:
		return memberlist.DefaultLANConfig(), nil
	case ProfileWAN:
		return memberlist.DefaultWANConfig(), nil
	case ProfileLocal:
		return memberlist.DefaultLocalConfig(), nil
	default:
		return nil, fmt.Errorf("unknown transport profile %q (want %s, %s or %s)", profile, ProfileLAN, ProfileWAN, ProfileLocal)
	}
}
