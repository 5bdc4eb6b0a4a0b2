package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AIToolSurface exposes the system to an AI client over stdio JSON-RPC
// (§4.9): four tools plus one resource. Grounded on the teacher's
// mark3labs/mcp-go server setup (NewMCPServer/AddTool/handler
// signature), swapped from the teacher's HTTP transport to
// server.ServeStdio since this spec's AI surface is a subprocess tool,
// not a network service.
type AIToolSurface struct {
	mcpServer *server.MCPServer

	state        *StateCore
	qso          *QSOMachine
	egress       *UDPEgressManager
	supervisor   *DecoderSupervisor
	radioBackend RadioBackend
	station      StationProfile

	portFor func(channel int) int
}

func NewAIToolSurface(state *StateCore, qso *QSOMachine, egress *UDPEgressManager, supervisor *DecoderSupervisor, radioBackend RadioBackend, station StationProfile, portFor func(int) int) *AIToolSurface {
	a := &AIToolSurface{
		state:        state,
		qso:          qso,
		egress:       egress,
		supervisor:   supervisor,
		radioBackend: radioBackend,
		station:      station,
		portFor:      portFor,
	}
	a.mcpServer = server.NewMCPServer(
		"ft8-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
	)
	a.registerTools()
	a.registerResources()
	return a
}

// Serve blocks running the stdio JSON-RPC loop (§4.9).
func (a *AIToolSurface) Serve() error {
	return server.ServeStdio(a.mcpServer)
}

func (a *AIToolSurface) registerTools() {
	a.mcpServer.AddTool(
		mcp.NewTool("call_cq",
			mcp.WithDescription("Transmit a CQ call on one of the radio's digital-mode slices to solicit a contact. Picks an idle slice automatically unless one is specified."),
			mcp.WithString("slice",
				mcp.Description("Slice letter A-D to use, or empty to pick the first idle slice"),
			),
		),
		a.handleCallCQ,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("answer_decoded_station",
			mcp.WithDescription("Answer a specific decode returned from the wsjt-x://decodes resource, identified by its id field."),
			mcp.WithString("decode_id",
				mcp.Required(),
				mcp.Description("The id field of the decode to answer, from wsjt-x://decodes"),
			),
			mcp.WithBoolean("force_mode",
				mcp.Description("Answer even if this callsign/band/mode is already logged as worked (default: still answers, but the result notes it)"),
				mcp.DefaultBool(false),
			),
		),
		a.handleAnswerDecodedStation,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("rig_get_state",
			mcp.WithDescription("Get the current operating state of all radio slices: frequency, band, mode, and whether each is idle, decoding, calling, or in a contact."),
		),
		a.handleRigGetState,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("rig_emergency_stop",
			mcp.WithDescription("Immediately halt all transmissions on every slice and abort any in-progress contacts. Use this if something looks wrong."),
		),
		a.handleRigEmergencyStop,
	)
}

func (a *AIToolSurface) registerResources() {
	res := mcp.NewResource(
		"wsjt-x://decodes",
		"Recent Decodes",
		mcp.WithResourceDescription("Recent digital-mode decodes across all slices, newest last."),
		mcp.WithMIMEType("application/json"),
	)
	a.mcpServer.AddResource(res, a.handleDecodesResource)
}

func (a *AIToolSurface) handleCallCQ(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	letter := req.GetString("slice", "")
	channel, err := a.resolveChannel(letter, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := a.qso.CallCQ(channel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Calling CQ on slice %s", ChannelLetter(channel))), nil
}

func (a *AIToolSurface) handleAnswerDecodedStation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decodeID := req.GetString("decode_id", "")
	if decodeID == "" {
		return mcp.NewToolResultError("decode_id is required"), nil
	}
	forceMode := req.GetBool("force_mode", false)

	rec, channel, found := a.resolveDecodeID(decodeID)
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("no decode found for id %s", decodeID)), nil
	}

	note := ""
	if ch := a.state.GetChannel(channel); ch != nil && a.state.IsWorked(rec.Callsign, ch.Band, rec.Mode) {
		log.Printf("ai-tool-surface: answering %s on %s/%s, already worked (force_mode=%v)", rec.Callsign, ch.Band, rec.Mode, forceMode)
		note = " (already worked on this band/mode, answering anyway)"
	}

	report := formatReport(rec.SNRdB)
	if err := a.qso.AnswerDecodedStation(channel, rec, report); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Answering %s on slice %s%s", rec.Callsign, ChannelLetter(channel), note)), nil
}

// formatReport renders a signal report in the sign-and-two-digit form
// WSJT-X messages use (e.g. -10, +05).
func formatReport(snrDB int) string {
	if snrDB >= 0 {
		return fmt.Sprintf("+%02d", snrDB)
	}
	return fmt.Sprintf("-%02d", -snrDB)
}

// handleRigGetState returns the per-slice state plus the backend
// connection status (§4.9). A slice index/letter is an explicit
// exception to the AI surface's "no channel index" boundary invariant:
// the operator needs to know which physical slice is doing what.
func (a *AIToolSurface) handleRigGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chans := a.state.AllChannels()
	type chanView struct {
		Slice      string `json:"slice"`
		Index      int    `json:"index"`
		Band       string `json:"band"`
		Mode       string `json:"mode"`
		Status     string `json:"status"`
		DialHz     uint64 `json:"dial_hz"`
		IsTX       bool   `json:"is_tx"`
		Connected  bool   `json:"connected"`
		LastDecode string `json:"last_decode,omitempty"`
	}
	type stateView struct {
		Slices           []chanView `json:"slices"`
		TXChannel        string     `json:"tx_channel,omitempty"`
		BackendConnected bool       `json:"backend_connected"`
	}

	views := make([]chanView, 0, len(chans))
	for _, c := range chans {
		v := chanView{
			Slice:     c.Letter,
			Index:     c.Index,
			Band:      c.Band,
			Mode:      c.RadioMode,
			Status:    c.Status.String(),
			DialHz:    c.DialFreqHz,
			IsTX:      c.IsTX,
			Connected: c.Connected,
		}
		if !c.LastDecode.IsZero() {
			v.LastDecode = c.LastDecode.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}

	out := stateView{Slices: views}
	if tx := a.state.TXChannelIndex(); tx >= 0 {
		out.TXChannel = ChannelLetter(tx)
	}
	if a.radioBackend != nil {
		out.BackendConnected = a.radioBackend.Connected()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleRigEmergencyStop aborts every in-progress QSO session, halts
// transmission at the decoder, and drops TX on every slice at the
// radio backend itself (§4.9 "use this if something looks wrong").
func (a *AIToolSurface) handleRigEmergencyStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if a.radioBackend == nil || !a.radioBackend.Connected() {
		return mcp.NewToolResultError("radio backend not connected"), nil
	}
	for i := 0; i < 4; i++ {
		ch := a.state.GetChannel(i)
		if ch == nil {
			continue
		}
		a.qso.Abort(i)
		_ = a.egress.SendHaltTx(i, ch.UDPPort, "qso-machine", true)
		if _, err := a.radioBackend.SetSliceTX(i, false); err != nil {
			log.Printf("ai-tool-surface: emergency stop: slice %s tx off: %v", ch.Letter, err)
		}
	}
	return mcp.NewToolResultText("All slices halted"), nil
}

// handleDecodesResource returns a time-bounded snapshot of public
// decode records: the decodes of the last 60 seconds, at most the 100
// most recent (§4.9). Per the boundary invariant, no channel index
// or slice letter leaks into this view.
func (a *AIToolSurface) handleDecodesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	recent := a.state.RecentDecodes(100)
	cutoff := time.Now().UTC().Add(-60 * time.Second)
	for len(recent) > 0 && recent[0].Timestamp.Before(cutoff) {
		recent = recent[1:]
	}
	ids := buildDecodeIDs(recent)
	records := make([]PublicDecodeRecord, 0, len(recent))
	for i, rec := range recent {
		records = append(records, PublicDecodeRecord{
			ID:               ids[i],
			Timestamp:        rec.Timestamp,
			Band:             rec.Band,
			Mode:             rec.Mode,
			DialHz:           rec.DialHz,
			AudioOffset:      rec.AudioOffset,
			RFHz:             rec.RFHz,
			SNRdB:            rec.SNRdB,
			DTSec:            rec.DTSec,
			Callsign:         rec.Callsign,
			Grid:             rec.Grid,
			IsCQ:             rec.IsCQ,
			IsMyCall:         rec.IsMyCall,
			IsDirectedCQToMe: rec.IsDirectedCQToMe,
			CQTargetToken:    rec.CQTargetToken,
			RawText:          rec.RawText,
			LowConfidence:    rec.LowConfidence,
			OffAir:           rec.OffAir,
			NewDecode:        rec.NewDecode,
		})
	}
	snapshot := DecodeSnapshot{
		SnapshotID: uuid.NewString(),
		Generated:  time.Now().UTC(),
		Decodes:    records,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal decode snapshot: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "wsjt-x://decodes",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// resolveChannel maps a slice letter ("A".."D") to a channel index,
// or picks the first idle channel when letter is empty (§4.9 "picks
// an idle slice automatically"). requireIdle is not consulted.
func (a *AIToolSurface) resolveChannel(letter string, requireIdle bool) (int, error) {
	if letter != "" {
		for i := 0; i < 4; i++ {
			if ChannelLetter(i) == letter {
				return i, nil
			}
		}
		return 0, fmt.Errorf("unknown slice %q", letter)
	}
	for i := 0; i < 4; i++ {
		ch := a.state.GetChannel(i)
		if ch != nil && ch.Status == StatusIdle {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no idle slice available")
}

// buildDecodeIDs assigns each record the id format "<slice-letter>-
// <timestamp>-<index>" (§4.9), where index disambiguates same-slice
// decodes sharing a timestamp within the given list.
func buildDecodeIDs(recs []InternalDecodeRecord) []string {
	seen := make(map[string]int, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		letter := ChannelLetter(rec.ChannelIndex)
		key := fmt.Sprintf("%s-%d", letter, rec.Timestamp.UnixNano())
		idx := seen[key]
		seen[key] = idx + 1
		ids[i] = fmt.Sprintf("%s-%d-%d", letter, rec.Timestamp.UnixNano(), idx)
	}
	return ids
}

// findRecentDecode returns the most recent decode for call across all
// slices, newest first, for callers that still key off a callsign
// rather than a decode id.
func (a *AIToolSurface) findRecentDecode(call string) (InternalDecodeRecord, int, bool) {
	call = strings.ToUpper(call)
	recent := a.state.RecentDecodes(200)
	for i := len(recent) - 1; i >= 0; i-- {
		if strings.ToUpper(recent[i].Callsign) == call {
			return recent[i], recent[i].ChannelIndex, true
		}
	}
	return InternalDecodeRecord{}, 0, false
}

// resolveDecodeID looks up a decode by the id format handleDecodesResource
// hands out. If no exact id match is found (the snapshot the caller saw
// may have aged out of history), it falls back to a "callsign|unixnano
// timestamp|snr" triple, which is stable even across a history trim (§4.9).
func (a *AIToolSurface) resolveDecodeID(decodeID string) (InternalDecodeRecord, int, bool) {
	recent := a.state.RecentDecodes(200)
	for i, id := range buildDecodeIDs(recent) {
		if id == decodeID {
			return recent[i], recent[i].ChannelIndex, true
		}
	}

	parts := strings.SplitN(decodeID, "|", 3)
	if len(parts) == 3 {
		call := strings.ToUpper(parts[0])
		ts, errTS := strconv.ParseInt(parts[1], 10, 64)
		snr, errSNR := strconv.Atoi(parts[2])
		if errTS == nil && errSNR == nil {
			for _, rec := range recent {
				if strings.ToUpper(rec.Callsign) == call && rec.Timestamp.UnixNano() == ts && rec.SNRdB == snr {
					return rec, rec.ChannelIndex, true
				}
			}
		}
	}
	return InternalDecodeRecord{}, 0, false
}
