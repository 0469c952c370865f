package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Protocol identifies a supported node transport. The set is closed so the
// scoring tables and fingerprinting stay exhaustive.
type Protocol string

const (
	ProtocolVMess     Protocol = "vmess"
	ProtocolVLESS     Protocol = "vless"
	ProtocolTrojan    Protocol = "trojan"
	ProtocolSS        Protocol = "ss"
	ProtocolSSR       Protocol = "ssr"
	ProtocolHysteria  Protocol = "hysteria"
	ProtocolHysteria2 Protocol = "hysteria2"
)

func (p Protocol) Known() bool {
	switch p {
	case ProtocolVMess, ProtocolVLESS, ProtocolTrojan, ProtocolSS,
		ProtocolSSR, ProtocolHysteria, ProtocolHysteria2:
		return true
	}
	return false
}

// Params carries the protocol-specific fields of a Node. Every protocol has
// its own variant instead of an open key-value map, so identity derivation
// can enumerate exactly the fields that matter.
type Params interface {
	identityFields() []string
}

type VMessParams struct {
	ID       string
	Network  string
	Security string
}

func (p VMessParams) identityFields() []string {
	return []string{p.ID, p.Network, p.Security}
}

type VLESSParams struct {
	ID       string
	Flow     string
	Security string
}

func (p VLESSParams) identityFields() []string {
	return []string{p.ID, p.Flow, p.Security}
}

type TrojanParams struct {
	Password string
	SNI      string
}

func (p TrojanParams) identityFields() []string {
	return []string{p.Password, p.SNI}
}

type SSParams struct {
	Method   string
	Password string
}

func (p SSParams) identityFields() []string {
	return []string{p.Method, p.Password}
}

type SSRParams struct {
	Method   string
	Password string
	Protocol string
	Obfs     string
}

func (p SSRParams) identityFields() []string {
	return []string{p.Method, p.Password, p.Protocol, p.Obfs}
}

// HysteriaParams covers both hysteria and hysteria2 links.
type HysteriaParams struct {
	Auth string
}

func (p HysteriaParams) identityFields() []string {
	return []string{p.Auth}
}

// Node is an immutable candidate descriptor. Raw keeps the original link so
// selected nodes can be re-exported byte for byte.
type Node struct {
	Raw      string
	Protocol Protocol
	Host     string
	Port     uint16
	Name     string // display fragment, cosmetic only
	Params   Params
}

func (n *Node) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Fingerprint derives the node identity as a hex SHA-256 over the lowercased
// canonical tuple. Name stays out of the tuple so renamed duplicates collapse
// onto one identity.
func (n *Node) Fingerprint() string {
	fields := make([]string, 0, 8)
	fields = append(fields, string(n.Protocol), n.Host, strconv.Itoa(int(n.Port)))
	if n.Params != nil {
		fields = append(fields, n.Params.identityFields()...)
	}

	hash := sha256.Sum256([]byte(strings.ToLower(strings.Join(fields, "|"))))
	return hex.EncodeToString(hash[:])
}
