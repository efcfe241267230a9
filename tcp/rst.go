package tcp

// ResetFor returns the RST segment to send in reply to seg, received for a
// connection that does not exist (RFC 9293 3.10.7.1). A RST is never answered.
//
//	If the incoming segment has an ACK field, the reset takes its sequence
//	number from the ACK field of the segment, otherwise the reset has
//	sequence number zero and the ACK field is set to the sum of the sequence
//	number and segment length of the incoming segment.
func ResetFor(seg Segment) (rst Segment, ok bool) {
	if seg.Flags.HasAny(FlagRST) {
		return Segment{}, false
	}
	if seg.Flags.HasAny(FlagACK) {
		return Segment{SEQ: seg.ACK, Flags: FlagRST}, true
	}
	return Segment{SEQ: 0, ACK: seg.End(), Flags: rstack}, true
}
