package petsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ReconcileResult is the field-by-field comparison of a persisted
// submission with the current local records.
type ReconcileResult struct {
	ClientID          int64             `json:"client_id"`
	PetID             *int64            `json:"pet_id,omitempty"`
	PayloadPath       string            `json:"payload_path"`
	Submission        *Submission       `json:"submission"`
	ClientComparisons []FieldComparison `json:"client_comparisons"`
	PetComparisons    []FieldComparison `json:"pet_comparisons"`
	ClientHasChanges  bool              `json:"client_has_changes"`
	PetHasChanges     bool              `json:"pet_has_changes"`
}

// HasChanges reports whether anything could be applied.
func (r ReconcileResult) HasChanges() bool { return r.ClientHasChanges || r.PetHasChanges }

// Reconcile compares the payload at path with client clientID and the
// client's pet of the same name. A missing or unreadable payload returns
// an error wrapping ErrPayloadNotFound; no differences is a normal result.
func Reconcile(ctx context.Context, r Repos, clientID int64, path string) (*ReconcileResult, error) {
	sub, err := ReadPayload(path)
	if err != nil {
		return nil, err
	}
	client, err := r.Clients.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %d: %w", clientID, err)
	}

	var pet *Pet
	p, err := r.Pets.FindByNameAndClient(ctx, clientID, sub.Pet.Name)
	switch {
	case err == nil:
		pet = p
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load pet: %w", err)
	}

	res := &ReconcileResult{
		ClientID:          clientID,
		PayloadPath:       path,
		Submission:        sub,
		ClientComparisons: CompareClient(client, sub.Client),
		PetComparisons:    ComparePet(pet, sub.Pet),
	}
	if pet != nil {
		id := pet.ID
		res.PetID = &id
	}
	res.ClientHasChanges = HasChanges(res.ClientComparisons)
	res.PetHasChanges = HasChanges(res.PetComparisons)
	return res, nil
}

// ApplyRequest selects the fields of a payload to write.
type ApplyRequest struct {
	ClientID int64    `json:"client_id"`
	PetID    *int64   `json:"pet_id,omitempty"`
	Path     string   `json:"path"`
	Client   []string `json:"client_fields"`
	Pet      []string `json:"pet_fields"`
}

// ApplyResult returns the records after the update.
type ApplyResult struct {
	Client     *Client `json:"client"`
	Pet        *Pet    `json:"pet,omitempty"`
	PetCreated bool    `json:"pet_created,omitempty"`
}

func checkFields(specs []fieldSpec, names []string) error {
	for _, n := range names {
		ok := false
		for _, f := range specs {
			if f.name == n && !f.informational {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, n)
		}
	}
	return nil
}

// ApplyClientUpdates writes exactly the named fields from in onto c.
func ApplyClientUpdates(c *Client, in ContactFields, fields []string) error {
	if err := checkFields(clientFieldSpecs, fields); err != nil {
		return err
	}
	for _, f := range fields {
		v := strings.TrimSpace(contactValue(in, f))
		switch f {
		case "firstName":
			c.FirstName = v
		case "lastName":
			c.LastName = v
		case "email":
			c.Email = v
		case "mobile":
			c.Mobile = v
		case "streetAddress":
			c.StreetAddress = v
		case "city":
			c.City = v
		case "state":
			c.State = v
		case "postcode":
			c.Postcode = v
		}
	}
	return nil
}

// ApplyPetUpdates writes exactly the named fields from in onto p. Sex is
// stored in its normalized form.
func ApplyPetUpdates(p *Pet, in PetFields, fields []string) error {
	if err := checkFields(petFieldSpecs, fields); err != nil {
		return err
	}
	for _, f := range fields {
		v := strings.TrimSpace(petFieldValue(in, f))
		switch f {
		case "name":
			p.Name = v
		case "species":
			p.Species = tidyName(v)
		case "breed":
			p.Breed = v
		case "sex":
			if v == "" {
				p.Sex = ""
				continue
			}
			s, ok := NormalizeSex(v)
			if !ok {
				return &ValidationError{Field: "sex", Message: fmt.Sprintf("%q is not a recognised sex", v)}
			}
			p.Sex = s
		}
	}
	return nil
}

// applyUpdates re-reads the payload and writes the selected fields in one
// transaction. Fields not selected are untouched whatever their status.
func applyUpdates(ctx context.Context, s *Store, req ApplyRequest) (*ApplyResult, error) {
	if err := checkFields(clientFieldSpecs, req.Client); err != nil {
		return nil, err
	}
	if err := checkFields(petFieldSpecs, req.Pet); err != nil {
		return nil, err
	}
	sub, err := ReadPayload(req.Path)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{}
	err = s.WithTx(ctx, func(r Repos) error {
		client, err := r.Clients.Get(ctx, req.ClientID)
		if err != nil {
			return &TransactionError{Step: "load client", Err: err}
		}
		if len(req.Client) > 0 {
			if err := ApplyClientUpdates(client, sub.Client, req.Client); err != nil {
				return err
			}
			if err := r.Clients.Update(ctx, client); err != nil {
				return &TransactionError{Step: "update client", Err: err}
			}
		}
		res.Client = client

		if len(req.Pet) == 0 {
			return nil
		}
		var pet *Pet
		if req.PetID != nil {
			pet, err = r.Pets.Get(ctx, *req.PetID)
		} else {
			pet, err = r.Pets.FindByNameAndClient(ctx, req.ClientID, sub.Pet.Name)
		}
		switch {
		case errors.Is(err, ErrNotFound) && req.PetID == nil:
			pet = &Pet{ClientID: req.ClientID, Name: strings.TrimSpace(sub.Pet.Name), Species: tidyName(sub.Pet.Species)}
			if err := ApplyPetUpdates(pet, sub.Pet, req.Pet); err != nil {
				return err
			}
			if err := r.Pets.Create(ctx, pet); err != nil {
				return &TransactionError{Step: "create pet", Err: err}
			}
			res.PetCreated = true
		case err != nil:
			return &TransactionError{Step: "load pet", Err: err}
		default:
			if pet.ClientID != req.ClientID {
				return &TransactionError{Step: "load pet", Err: fmt.Errorf("pet %d belongs to another client", pet.ID)}
			}
			if err := ApplyPetUpdates(pet, sub.Pet, req.Pet); err != nil {
				return err
			}
			if err := r.Pets.Update(ctx, pet); err != nil {
				return &TransactionError{Step: "update pet", Err: err}
			}
		}
		res.Pet = pet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
