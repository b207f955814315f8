package appointment

import (
	"fmt"
	"strings"
)

type Modality string

const (
	ModalityInPerson Modality = "in-person"
	ModalityOnline   Modality = "online"
)

// ModalityOffering is what a professional declares. The zero value means the
// professional has no mode on record.
type ModalityOffering string

const (
	OfferingUnknown  ModalityOffering = ""
	OfferingInPerson ModalityOffering = "in-person"
	OfferingOnline   ModalityOffering = "online"
	OfferingMixed    ModalityOffering = "mixed"
)

// UnknownOfferingPolicy decides what happens when the offering is unknown.
type UnknownOfferingPolicy string

const (
	UnknownPermissive UnknownOfferingPolicy = "permissive"
	UnknownReject     UnknownOfferingPolicy = "reject"
)

var allowedModalities = []string{string(ModalityInPerson), string(ModalityOnline)}

// ParseModality accepts the canonical values plus the labels used by the
// profile store ("presencial", "Online").
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "in-person", "in_person", "presencial":
		return ModalityInPerson, nil
	case "online":
		return ModalityOnline, nil
	}
	return "", &ValidationError{Field: "modality", Reason: fmt.Sprintf("unknown modality %q", s), Allowed: allowedModalities}
}

// ParseOffering never fails: anything unrecognised is treated as unknown.
func ParseOffering(s string) ModalityOffering {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in-person", "in_person", "presencial":
		return OfferingInPerson
	case "online":
		return OfferingOnline
	case "mixed", "mixta":
		return OfferingMixed
	}
	return OfferingUnknown
}

// ResolveModality checks requested against the professional's offering and
// returns the modality to store on the appointment.
func ResolveModality(requested Modality, offering ModalityOffering, unknown UnknownOfferingPolicy) (Modality, error) {
	if requested != "" && requested != ModalityInPerson && requested != ModalityOnline {
		return "", &ValidationError{Field: "modality", Reason: fmt.Sprintf("unknown modality %q", requested), Allowed: allowedModalities}
	}

	switch offering {
	case OfferingInPerson, OfferingOnline:
		fixed := Modality(offering)
		if requested == "" {
			return fixed, nil
		}
		if requested != fixed {
			return "", &ValidationError{Field: "modality", Reason: "not offered by professional", Allowed: []string{string(fixed)}}
		}
		return requested, nil

	case OfferingMixed:
		if requested == "" {
			return "", &ValidationError{Field: "modality", Reason: "required for mixed offering", Allowed: allowedModalities}
		}
		return requested, nil
	}

	if unknown == UnknownReject {
		return "", &ValidationError{Field: "modality", Reason: "professional has no declared modality offering"}
	}
	// Permissive: no constraint, but the record still needs a concrete mode.
	if requested == "" {
		return "", &ValidationError{Field: "modality", Reason: "required when professional offering is unknown", Allowed: allowedModalities}
	}
	return requested, nil
}
