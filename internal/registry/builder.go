package registry

import (
	"strconv"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// allowedMethods is emitted as six separate Allow headers, in this order,
// per the GIN REGISTER wire layout.
var allowedMethods = []string{"INVITE", "ACK", "BYE", "CANCEL", "REGISTER", "OPTIONS"}

// buildOptions carries everything buildRegister needs to construct a
// GIN-style REGISTER request for a single gateway URI.
type buildOptions struct {
	Username    string
	GatewayRef  string
	GatewayHost string // Request-URI / From-To host
	Transport   string
	ContactHost string // resolved via the Address Resolver
	ContactPort int
	Branch      string
	CallID      string
	CSeq        uint64
	Expires     int
	UserAgent   string
}

// buildRegister constructs a SIP REGISTER conforming to RFC 3261 + RFC 6140
// (GIN), per the fixed header shape in §4.3. The Contact's bnc parameter is
// the GIN bulk-contact marker and is emitted with no value even though it
// carries no value on the wire.
func buildRegister(o buildOptions) *sip.Request {
	reqURI := sip.Uri{Scheme: "sip", Host: o.GatewayHost}
	req := sip.NewRequest(sip.REGISTER, reqURI)

	via := sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       o.Transport,
		Host:            o.ContactHost,
		Port:            o.ContactPort,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", o.Branch)
	via.Params.Add("rport", "")
	req.AppendHeader(&via)

	addrURI := sip.Uri{Scheme: "sip", User: o.Username, Host: o.GatewayHost}

	from := sip.FromHeader{Address: addrURI, Params: sip.NewParams()}
	from.Params.Add("tag", uuid.NewString())
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: addrURI, Params: sip.NewParams()}
	req.AppendHeader(&to)

	callID := sip.CallIDHeader(o.CallID)
	req.AppendHeader(&callID)

	cseq := sip.CSeqHeader{SeqNo: uint32(o.CSeq), MethodName: sip.REGISTER}
	req.AppendHeader(&cseq)

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   o.Username,
			Host:   o.ContactHost,
			Port:   o.ContactPort,
		},
		Params: sip.NewParams(),
	}
	// bnc must land as a Contact header-field parameter, outside the
	// angle brackets (RFC 6140 §4.1): "Contact: <sip:...>;bnc". A
	// uri-param would serialize inside the brackets instead, which GIN
	// registrars do not recognize as the bulk marker.
	contact.Params.Add("bnc", "")
	req.AppendHeader(&contact)

	expires := sip.ExpiresHeader(o.Expires)
	req.AppendHeader(&expires)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	req.AppendHeader(sip.NewHeader("Proxy-Require", "gin"))
	req.AppendHeader(sip.NewHeader("Require", "gin"))
	req.AppendHeader(sip.NewHeader("Supported", "path"))
	for _, m := range allowedMethods {
		req.AppendHeader(sip.NewHeader("Allow", m))
	}
	req.AppendHeader(sip.NewHeader("User-Agent", o.UserAgent))
	req.AppendHeader(sip.NewHeader("X-Gateway-Ref", o.GatewayRef))

	return req
}

// parseExpiresHeader extracts the integer Expires value from a REGISTER
// response, defaulting to fallback when absent or malformed.
func parseExpiresHeader(res *sip.Response, fallback int) int {
	h := res.GetHeader("Expires")
	if h == nil {
		return fallback
	}
	v, err := strconv.Atoi(h.Value())
	if err != nil {
		return fallback
	}
	return v
}
