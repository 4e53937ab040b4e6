package dlna

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dlnabridge/dlnabridge/log"
)

// errInvalidAction marks client-side request failures that must surface as
// the UPnP 401 Invalid Action fault instead of an internal error.
var errInvalidAction = errors.New("invalid action")

// SOAPEnvelope represents an incoming SOAP request envelope
type SOAPEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    SOAPBody
}

// SOAPBody carries the raw action element
type SOAPBody struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	Content []byte   `xml:",innerxml"`
}

// UPnP error codes
const (
	upnpErrorInvalidAction = 401
	upnpErrorInvalidArgs   = 402
	upnpErrorActionFailed  = 501
	upnpErrorNoSuchObject  = 701
)

const (
	faultClient = "s:Client"
	faultServer = "s:Server"
)

// handleContentDirectoryControl handles SOAP requests for the ContentDirectory service
func (r *Router) handleContentDirectoryControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Error(ctx, "Failed to read SOAP request", err)
		r.writeSOAPFault(w, faultServer, upnpErrorActionFailed, "Failed to read request")
		return
	}

	var envelope SOAPEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		log.Warn(ctx, "Failed to parse SOAP envelope", err, "body", string(body))
		r.writeSOAPFault(w, faultClient, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	action := extractActionName(soapAction)
	client := r.clientFor(req)

	log.Debug(ctx, "ContentDirectory request", "action", action, "vendor", client.Vendor, "remote", req.RemoteAddr)

	var response interface{}
	switch action {
	case "Browse":
		response, err = r.handleBrowse(ctx, envelope.Body.Content, client, req)
	case "GetSearchCapabilities":
		response, err = r.handleGetSearchCapabilities(ctx)
	case "GetSortCapabilities":
		response, err = r.handleGetSortCapabilities(ctx)
	case "GetSystemUpdateID":
		response, err = r.handleGetSystemUpdateID(ctx)
	default:
		log.Warn(ctx, "Unknown ContentDirectory action", "action", action)
		r.writeSOAPFault(w, faultClient, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	if err != nil {
		if errors.Is(err, errInvalidAction) {
			log.Warn(ctx, "Malformed ContentDirectory request", err, "action", action)
			r.writeSOAPFault(w, faultClient, upnpErrorInvalidAction, "Invalid Action")
			return
		}
		log.Error(ctx, "ContentDirectory action failed", err, "action", action)
		r.writeSOAPFault(w, faultServer, upnpErrorActionFailed, err.Error())
		return
	}

	r.writeSOAPResponse(w, response)
}

// handleConnectionManagerControl handles SOAP requests for the ConnectionManager service
func (r *Router) handleConnectionManagerControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Error(ctx, "Failed to read SOAP request", err)
		r.writeSOAPFault(w, faultServer, upnpErrorActionFailed, "Failed to read request")
		return
	}

	var envelope SOAPEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		log.Warn(ctx, "Failed to parse SOAP envelope", err, "body", string(body))
		r.writeSOAPFault(w, faultClient, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	action := extractActionName(soapAction)

	log.Debug(ctx, "ConnectionManager request", "action", action)

	var response interface{}
	switch action {
	case "GetProtocolInfo":
		response, err = r.handleGetProtocolInfo(ctx)
	case "GetCurrentConnectionIDs":
		response, err = r.handleGetCurrentConnectionIDs(ctx)
	case "GetCurrentConnectionInfo":
		response, err = r.handleGetCurrentConnectionInfo(ctx, envelope.Body.Content)
	default:
		log.Warn(ctx, "Unknown ConnectionManager action", "action", action)
		r.writeSOAPFault(w, faultClient, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	if err != nil {
		log.Error(ctx, "ConnectionManager action failed", err, "action", action)
		r.writeSOAPFault(w, faultServer, upnpErrorActionFailed, err.Error())
		return
	}

	r.writeSOAPResponse(w, response)
}

// writeSOAPResponse marshals the action response and wraps it in the
// standard envelope. The DIDL payload inside Browse responses is carried
// as a plain string field, so xml.Marshal escapes it exactly once here.
func (r *Router) writeSOAPResponse(w http.ResponseWriter, result interface{}) {
	respBody, err := xml.Marshal(result)
	if err != nil {
		r.writeSOAPFault(w, faultServer, upnpErrorActionFailed, "Failed to marshal response")
		return
	}

	envelope := renderTemplate("soap-envelope", string(respBody))

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Ext", "")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(envelope))
}

// writeSOAPFault writes a SOAP fault response
func (r *Router) writeSOAPFault(w http.ResponseWriter, faultCode string, code int, message string) {
	fault := renderTemplate("soap-fault", faultCode, code, xmlEscape(message))

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(fault))
}

// extractActionName extracts the action name from a SOAPAction header,
// e.g. "urn:schemas-upnp-org:service:ContentDirectory:1#Browse"
func extractActionName(soapAction string) string {
	if idx := strings.LastIndex(soapAction, "#"); idx >= 0 {
		return soapAction[idx+1:]
	}
	return soapAction
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return fmt.Sprintf("%q", s)
	}
	return buf.String()
}
