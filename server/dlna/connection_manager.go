package dlna

import (
	"context"
	"encoding/xml"
	"strings"
)

// ConnectionManager request/response structures

// GetProtocolInfoResponse for GetProtocolInfo action
type GetProtocolInfoResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetProtocolInfoResponse"`
	Source  string   `xml:"Source"`
	Sink    string   `xml:"Sink"`
}

// GetCurrentConnectionIDsResponse for GetCurrentConnectionIDs action
type GetCurrentConnectionIDsResponse struct {
	XMLName       xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetCurrentConnectionIDsResponse"`
	ConnectionIDs string   `xml:"ConnectionIDs"`
}

// GetCurrentConnectionInfoResponse for GetCurrentConnectionInfo action
type GetCurrentConnectionInfoResponse struct {
	XMLName               xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetCurrentConnectionInfoResponse"`
	RcsID                 int      `xml:"RcsID"`
	AVTransportID         int      `xml:"AVTransportID"`
	ProtocolInfo          string   `xml:"ProtocolInfo"`
	PeerConnectionManager string   `xml:"PeerConnectionManager"`
	PeerConnectionID      int      `xml:"PeerConnectionID"`
	Direction             string   `xml:"Direction"`
	Status                string   `xml:"Status"`
}

// Protocol info strings advertised to renderers.
// Format: protocol:network:contentFormat:additionalInfo
const (
	protoInfoMP4SD   = "http-get:*:video/mp4:DLNA.ORG_PN=AVC_MP4_MP_SD_AAC_MULT5;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	protoInfoMP4720  = "http-get:*:video/mp4:DLNA.ORG_PN=AVC_MP4_MP_HD_720p_AAC;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	protoInfoMP41080 = "http-get:*:video/mp4:DLNA.ORG_PN=AVC_MP4_MP_HD_1080i_AAC;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	protoInfoMKV     = "http-get:*:video/x-matroska:*"
	protoInfoAVI     = "http-get:*:video/avi:*"
	protoInfoMP3     = "http-get:*:audio/mpeg:DLNA.ORG_PN=MP3;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	protoInfoM4A     = "http-get:*:audio/mp4:DLNA.ORG_PN=AAC_ISO_320;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	protoInfoFLAC    = "http-get:*:audio/flac:*"
	protoInfoJPEGSM  = "http-get:*:image/jpeg:DLNA.ORG_PN=JPEG_SM;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=00f00000000000000000000000000000"
	protoInfoJPEGMED = "http-get:*:image/jpeg:DLNA.ORG_PN=JPEG_MED;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=00f00000000000000000000000000000"
	protoInfoJPEGLRG = "http-get:*:image/jpeg:DLNA.ORG_PN=JPEG_LRG;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=00f00000000000000000000000000000"
)

// handleGetProtocolInfo returns the supported protocols for streaming
func (r *Router) handleGetProtocolInfo(ctx context.Context) (*GetProtocolInfoResponse, error) {
	sourceProtocols := []string{
		protoInfoMP4SD,
		protoInfoMP4720,
		protoInfoMP41080,
		protoInfoMKV,
		protoInfoAVI,
		protoInfoMP3,
		protoInfoM4A,
		protoInfoFLAC,
		protoInfoJPEGSM,
		protoInfoJPEGMED,
		protoInfoJPEGLRG,
	}

	return &GetProtocolInfoResponse{
		Source: strings.Join(sourceProtocols, ","),
		Sink:   "", // we only serve streams
	}, nil
}

// handleGetCurrentConnectionIDs returns active connection IDs
func (r *Router) handleGetCurrentConnectionIDs(ctx context.Context) (*GetCurrentConnectionIDsResponse, error) {
	return &GetCurrentConnectionIDsResponse{
		ConnectionIDs: "0",
	}, nil
}

// handleGetCurrentConnectionInfo returns info about the default connection
func (r *Router) handleGetCurrentConnectionInfo(ctx context.Context, body []byte) (*GetCurrentConnectionInfoResponse, error) {
	return &GetCurrentConnectionInfoResponse{
		RcsID:            -1,
		AVTransportID:    -1,
		PeerConnectionID: -1,
		Direction:        "Output",
		Status:           "OK",
	}, nil
}
