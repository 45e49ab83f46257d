package petsync_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/petsync"
)

// reconcileFixture creates Jane with Rex (no breed) and a persisted
// questionnaire payload in her folder.
func reconcileFixture(t *testing.T) (*petsync.Service, *petsync.Store, *petsync.Client, *petsync.Pet, string) {
	t.Helper()
	folder := t.TempDir()
	cfg := petsync.Config{LocalPath: filepath.Join(t.TempDir(), "records.db"), ClientRecordsRoot: t.TempDir()}
	c, err := petsync.New(cfg, petsync.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()
	s := c.Store()

	client := &petsync.Client{FirstName: "Jane", LastName: "Smith", Email: "jane.smith@example.com", FolderPath: folder}
	if err := s.Repos().Clients.Create(ctx, client); err != nil {
		t.Fatal(err)
	}
	pet := &petsync.Pet{ClientID: client.ID, Name: "Rex", Species: "Dog"}
	if err := s.Repos().Pets.Create(ctx, pet); err != nil {
		t.Fatal(err)
	}
	path, err := petsync.WritePayload(folder, questionnaireSub("6001"), testNow)
	if err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	return c, s, client, pet, path
}

func comparisonFor(cmps []petsync.FieldComparison, field string) petsync.FieldComparison {
	for _, c := range cmps {
		if c.Field == field {
			return c
		}
	}
	return petsync.FieldComparison{}
}

func TestReconcile_ReportsDifferences(t *testing.T) {
	c, _, client, pet, path := reconcileFixture(t)

	res, err := c.Reconcile(context.Background(), client.ID, path)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.PetID == nil || *res.PetID != pet.ID {
		t.Errorf("PetID = %v, want %d", res.PetID, pet.ID)
	}
	if got := comparisonFor(res.PetComparisons, "breed"); got.Status != petsync.StatusNew || got.IncomingValue != "Labrador" {
		t.Errorf("breed = %+v, want new Labrador", got)
	}
	if got := comparisonFor(res.PetComparisons, "species"); got.Status != petsync.StatusMatch {
		t.Errorf("species = %+v, want match", got)
	}
	if got := comparisonFor(res.ClientComparisons, "mobile"); got.Status != petsync.StatusNew {
		t.Errorf("mobile = %+v, want new", got)
	}
	if !res.HasChanges() {
		t.Error("HasChanges() = false")
	}
}

func TestReconcile_BareFileName(t *testing.T) {
	c, _, client, _, path := reconcileFixture(t)
	res, err := c.Reconcile(context.Background(), client.ID, filepath.Base(path))
	if err != nil {
		t.Fatalf("Reconcile(bare name) failed: %v", err)
	}
	if res.PayloadPath != path {
		t.Errorf("PayloadPath = %q, want %q", res.PayloadPath, path)
	}
}

func TestReconcile_PathOutsideClientFolder(t *testing.T) {
	c, _, client, _, path := reconcileFixture(t)
	ctx := context.Background()
	other, err := petsync.WritePayload(t.TempDir(), questionnaireSub("6002"), testNow)
	if err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}

	for _, p := range []string{other, filepath.Join("..", filepath.Base(filepath.Dir(other)), filepath.Base(other)), ".."} {
		if _, err := c.Reconcile(ctx, client.ID, p); !errors.Is(err, petsync.ErrPayloadNotFound) {
			t.Errorf("Reconcile(%q) = %v, want ErrPayloadNotFound", p, err)
		}
	}
	_, err = c.Apply(ctx, petsync.ApplyRequest{ClientID: client.ID, Path: other, Pet: []string{"breed"}})
	if !errors.Is(err, petsync.ErrPayloadNotFound) {
		t.Errorf("Apply(other folder) = %v, want ErrPayloadNotFound", err)
	}
	if _, err := c.Reconcile(ctx, client.ID, path); err != nil {
		t.Errorf("Reconcile(absolute path in folder) failed: %v", err)
	}
}

func TestReconcile_MissingPayload(t *testing.T) {
	c, _, client, _, _ := reconcileFixture(t)
	_, err := c.Reconcile(context.Background(), client.ID, "questionnaire_nope.json")
	if !errors.Is(err, petsync.ErrPayloadNotFound) {
		t.Errorf("err = %v, want ErrPayloadNotFound", err)
	}
	_, err = c.Reconcile(context.Background(), client.ID, "")
	if !errors.Is(err, petsync.ErrPayloadNotFound) {
		t.Errorf("empty path err = %v, want ErrPayloadNotFound", err)
	}
}

func TestApply_OnlySelectedFields(t *testing.T) {
	c, s, client, pet, path := reconcileFixture(t)
	ctx := context.Background()

	res, err := c.Apply(ctx, petsync.ApplyRequest{ClientID: client.ID, Path: path, Pet: []string{"breed"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.PetCreated {
		t.Error("PetCreated = true, want update of existing pet")
	}

	got, _ := s.Repos().Pets.Get(ctx, pet.ID)
	if got.Breed != "Labrador" {
		t.Errorf("Breed = %q, want Labrador", got.Breed)
	}
	if got.Species != "Dog" || got.Sex != "" {
		t.Errorf("unselected fields changed: species=%q sex=%q", got.Species, got.Sex)
	}
	gotClient, _ := s.Repos().Clients.Get(ctx, client.ID)
	if gotClient.Mobile != "" {
		t.Errorf("Mobile = %q, client untouched expected", gotClient.Mobile)
	}

	again, err := c.Reconcile(ctx, client.ID, path)
	if err != nil {
		t.Fatal(err)
	}
	if got := comparisonFor(again.PetComparisons, "breed"); got.Status != petsync.StatusMatch {
		t.Errorf("breed after apply = %s, want match", got.Status)
	}
}

func TestApply_ClientAndSexNormalized(t *testing.T) {
	c, s, client, pet, path := reconcileFixture(t)
	ctx := context.Background()

	_, err := c.Apply(ctx, petsync.ApplyRequest{
		ClientID: client.ID,
		Path:     path,
		Client:   []string{"mobile"},
		Pet:      []string{"sex"},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	gotClient, _ := s.Repos().Clients.Get(ctx, client.ID)
	if gotClient.Mobile != "0412345678" {
		t.Errorf("Mobile = %q", gotClient.Mobile)
	}
	gotPet, _ := s.Repos().Pets.Get(ctx, pet.ID)
	if gotPet.Sex != petsync.SexNeutered {
		t.Errorf("Sex = %q, want Neutered", gotPet.Sex)
	}
}

func TestApply_RejectsUnknownAndInformational(t *testing.T) {
	c, _, client, _, path := reconcileFixture(t)
	for _, fields := range [][]string{{"age"}, {"colour"}} {
		_, err := c.Apply(context.Background(), petsync.ApplyRequest{ClientID: client.ID, Path: path, Pet: fields})
		if !errors.Is(err, petsync.ErrUnknownField) {
			t.Errorf("Apply(%v) = %v, want ErrUnknownField", fields, err)
		}
	}
}

func TestApply_CreatesMissingPet(t *testing.T) {
	c, s, client, _, _ := reconcileFixture(t)
	ctx := context.Background()

	sub := questionnaireSub("6002")
	sub.Pet = petsync.PetFields{Name: "Milo", Species: "cat", Breed: "Burmese"}
	path, err := petsync.WritePayload(client.FolderPath, sub, testNow)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Apply(ctx, petsync.ApplyRequest{ClientID: client.ID, Path: path, Pet: []string{"breed"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.PetCreated || res.Pet.Name != "Milo" || res.Pet.Species != "Cat" || res.Pet.Breed != "Burmese" {
		t.Errorf("result = %+v", res.Pet)
	}
	pets, _ := s.Repos().Pets.ListByClient(ctx, client.ID)
	if len(pets) != 2 {
		t.Errorf("pets = %d, want 2", len(pets))
	}
}

func TestApplyPetUpdates_UnrecognisedSex(t *testing.T) {
	p := &petsync.Pet{Name: "Rex"}
	err := petsync.ApplyPetUpdates(p, petsync.PetFields{Sex: "unsure"}, []string{"sex"})
	var ve *petsync.ValidationError
	if !errors.As(err, &ve) || ve.Field != "sex" {
		t.Errorf("err = %v, want sex ValidationError", err)
	}
}
