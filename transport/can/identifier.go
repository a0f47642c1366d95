package can

import "fmt"

// Bit layout of the 29-bit extended CAN identifier used by every Cyphal/CAN
// frame (bit 28 is the MSB actually transmitted; bits 31-29 of the 32-bit
// extended identifier word are always zero and the EFF flag is asserted by
// the media layer, not by this package):
//
//	28:26  priority              (3 bits, 0..7)
//	25     service-not-message   (1 bit)
//	24     anonymous | request   (1 bit; message: anonymous flag,
//	                              service: request(1)/response(0))
//	23     reserved, always 0
//
// Message frames additionally carry:
//
//	22     reserved, always 0
//	21:8   subject-id  (13 bits, 0..8191)
//	7      reserved, always 0
//	6:0    source node-id (7 bits, 0..127)
//
// Service frames additionally carry:
//
//	22:14  service-id          (9 bits, 0..511)
//	13:7   destination node-id (7 bits, 0..127)
//	6:0    source node-id      (7 bits, 0..127)
const (
	MaxNodeID    = 127
	MaxSubjectID = 1<<13 - 1
	MaxServiceID = 1<<9 - 1

	priorityShift = 26
	priorityMask  = 0x7

	serviceNotMessageBit = 1 << 25
	anonymousOrRequestBit = 1 << 24

	subjectIDShift = 8
	subjectIDMask  = 0x1FFF

	sourceNodeMaskMessage = 0x7F

	serviceIDShift = 14
	serviceIDMask  = 0x1FF

	destNodeShiftService = 7
	destNodeMaskService  = 0x7F
	sourceNodeMaskService = 0x7F
)

// Identifier is a decoded 29-bit Cyphal/CAN identifier.
type Identifier struct {
	Priority        uint8 // 0..7
	IsServiceFrame  bool
	IsAnonymous     bool // message only
	IsRequest       bool // service only
	SubjectID       uint16
	ServiceID       uint16
	SourceNodeID    *uint16 // nil for an anonymous message frame
	DestinationNodeID *uint16 // service frames only
}

// Compile packs id into the 29-bit field of a CAN extended identifier (the
// caller is responsible for OR-ing in the hardware EFF flag, if any).
func (id Identifier) Compile() (uint32, error) {
	if id.Priority > 7 {
		return 0, fmt.Errorf("can: priority %d out of range", id.Priority)
	}
	var v uint32 = uint32(id.Priority) << priorityShift

	if id.IsServiceFrame {
		if id.ServiceID > MaxServiceID {
			return 0, fmt.Errorf("can: service-id %d out of range", id.ServiceID)
		}
		if id.SourceNodeID == nil || id.DestinationNodeID == nil {
			return 0, fmt.Errorf("can: service frames require both source and destination node-id")
		}
		if *id.SourceNodeID > MaxNodeID || *id.DestinationNodeID > MaxNodeID {
			return 0, fmt.Errorf("can: node-id out of range")
		}
		v |= serviceNotMessageBit
		if id.IsRequest {
			v |= anonymousOrRequestBit
		}
		v |= uint32(id.ServiceID&serviceIDMask) << serviceIDShift
		v |= uint32(*id.DestinationNodeID&destNodeMaskService) << destNodeShiftService
		v |= uint32(*id.SourceNodeID & sourceNodeMaskService)
		return v, nil
	}

	if id.SubjectID > MaxSubjectID {
		return 0, fmt.Errorf("can: subject-id %d out of range", id.SubjectID)
	}
	if id.IsAnonymous {
		v |= anonymousOrRequestBit
		if id.SourceNodeID != nil {
			return 0, fmt.Errorf("can: anonymous message frames carry no source node-id")
		}
	} else {
		if id.SourceNodeID == nil {
			return 0, fmt.Errorf("can: non-anonymous message frames require a source node-id")
		}
		if *id.SourceNodeID > MaxNodeID {
			return 0, fmt.Errorf("can: node-id out of range")
		}
	}
	v |= uint32(id.SubjectID&subjectIDMask) << subjectIDShift
	if id.SourceNodeID != nil {
		v |= uint32(*id.SourceNodeID & sourceNodeMaskMessage)
	}
	return v, nil
}

// Parse decodes the 29-bit field of a CAN extended identifier. raw must
// already have any hardware EFF/RTR/ERR flag bits stripped.
func Parse(raw uint32) (Identifier, error) {
	raw &= 1<<29 - 1
	var id Identifier
	id.Priority = uint8((raw >> priorityShift) & priorityMask)
	if raw&(1<<23) != 0 {
		return id, fmt.Errorf("can: reserved bit 23 set in identifier %#x", raw)
	}
	id.IsServiceFrame = raw&serviceNotMessageBit != 0
	if id.IsServiceFrame {
		id.IsRequest = raw&anonymousOrRequestBit != 0
		id.ServiceID = uint16((raw >> serviceIDShift) & serviceIDMask)
		dest := uint16((raw >> destNodeShiftService) & destNodeMaskService)
		src := uint16(raw & sourceNodeMaskService)
		id.DestinationNodeID = &dest
		id.SourceNodeID = &src
		return id, nil
	}
	id.IsAnonymous = raw&anonymousOrRequestBit != 0
	id.SubjectID = uint16((raw >> subjectIDShift) & subjectIDMask)
	if !id.IsAnonymous {
		src := uint16(raw & sourceNodeMaskMessage)
		id.SourceNodeID = &src
	}
	return id, nil
}
