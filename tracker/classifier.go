package tracker

import (
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mileusna/useragent"

	"merlodigital/site/logging"
	"merlodigital/site/utils"
)

// Rejection reasons reported to the tracker script.
const (
	ReasonBot   = "eh_robo"
	ReasonOwner = "eh_o_dono"
)

const unknownDevice = "❓ Dispositivo Desconhecido"

// Substrings that mark automated agents the parser does not know about.
var botSignatures = []string{
	"bot", "crawl", "spider", "slurp", "headlesschrome", "lighthouse",
	"facebookexternalhit", "python-requests", "go-http-client", "curl/", "wget/",
}

// Classification is the classifier's verdict on one request.
type Classification struct {
	Accepted bool
	// Reason is set when Accepted is false.
	Reason     string
	Device     string
	VisitorID  string
	NewVisitor bool
}

// Classifier decides which clicks are tracked and who made them.
type Classifier struct {
	secret   []byte
	tokenTTL time.Duration
	ignored  atomic.Pointer[ignoreSet]
}

// NewClassifier returns a classifier that signs visitor tokens with secret
// and rejects clicks from the ignored addresses or CIDR blocks.
func NewClassifier(secret []byte, tokenTTL time.Duration, ignored []string) *Classifier {
	c := &Classifier{secret: secret, tokenTTL: tokenTTL}
	c.SetIgnored(ignored)
	return c
}

// SetIgnored replaces the exclusion list. Safe for concurrent use.
func (c *Classifier) SetIgnored(entries []string) {
	c.ignored.Store(newIgnoreSet(entries))
}

// Classify never fails; unparseable input degrades to placeholder metadata.
func (c *Classifier) Classify(userAgent, ip, token string) Classification {
	ua := useragent.Parse(userAgent)
	if ua.Bot || looksLikeBot(userAgent) {
		return Classification{Reason: ReasonBot}
	}
	if c.ignored.Load().contains(ip) {
		return Classification{Reason: ReasonOwner}
	}

	cl := Classification{Accepted: true, Device: describeDevice(ua)}
	cl.VisitorID, cl.NewVisitor = c.resolveVisitor(token)
	return cl
}

// resolveVisitor returns the id carried by token, or mints a new one when the
// token is missing or does not verify.
func (c *Classifier) resolveVisitor(token string) (id string, isNew bool) {
	if token != "" {
		id, err := utils.ParseVisitorToken(c.secret, token)
		if err == nil {
			return id, false
		}
		logging.Debug().Err(err).Msg("discarding invalid visitor token")
	}
	return utils.GenerateVisitorID(), true
}

// IssueToken signs a token for visitorID to be stored in the identity cookie.
func (c *Classifier) IssueToken(visitorID string) (string, error) {
	return utils.GenerateVisitorToken(c.secret, visitorID, c.tokenTTL)
}

func looksLikeBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// describeDevice renders "{icon} {browser} no {os} {version}".
func describeDevice(ua useragent.UserAgent) string {
	if ua.Name == "" && ua.OS == "" {
		return unknownDevice
	}

	icon := "💻"
	switch {
	case ua.Mobile:
		icon = "📱"
	case ua.Tablet:
		icon = "📟"
	}

	browser := utils.DefaultString(ua.Name, "Navegador Desconhecido")
	system := strings.TrimSpace(utils.DefaultString(ua.OS, "Sistema Desconhecido") + " " + ua.OSVersion)
	return icon + " " + browser + " no " + system
}

// ignoreSet holds exact addresses and CIDR blocks. Entries that parse as
// neither are matched verbatim.
type ignoreSet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
	raw      map[string]struct{}
}

func newIgnoreSet(entries []string) *ignoreSet {
	s := &ignoreSet{
		addrs: make(map[netip.Addr]struct{}),
		raw:   make(map[string]struct{}),
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if p, err := netip.ParsePrefix(e); err == nil {
				s.prefixes = append(s.prefixes, p.Masked())
				continue
			}
		}
		if a, err := netip.ParseAddr(e); err == nil {
			s.addrs[a.Unmap()] = struct{}{}
			continue
		}
		logging.Warn().Str("entry", e).Msg("ignore list entry is not an address or CIDR, matching it literally")
		s.raw[e] = struct{}{}
	}
	return s
}

func (s *ignoreSet) contains(ip string) bool {
	if s == nil || ip == "" {
		return false
	}
	if _, ok := s.raw[ip]; ok {
		return true
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	if _, ok := s.addrs[a]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
