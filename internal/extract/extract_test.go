package extract_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/extract"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/testutil"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

const (
	contactsPath = "HomeDomain/Library/AddressBook/AddressBook.sqlitedb"
	messagesPath = "HomeDomain/Library/SMS/sms.db"
	callsPath    = "WirelessDomain/Library/CallHistory/call_history.db"
)

func openSource(t *testing.T, c *testutil.Container) *extract.BackupSource {
	t.Helper()
	src, err := extract.NewBackupSource(c.Root)
	if err != nil {
		t.Fatalf("NewBackupSource() error = %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func TestBackupSource_Contacts(t *testing.T) {
	c := testutil.NewContainer(t).
		CreateSource(contactsPath, func(t *testing.T, db *sql.DB) {
			testutil.AddressBookSchema(t, db)
			testutil.InsertPerson(t, db, 1, "Ada", "Lovelace", "Analytical Engines", "met at conf")
			testutil.InsertMultiValue(t, db, 1, 3, 0, "+19415180701")        // phone, mobile
			testutil.InsertMultiValue(t, db, 1, 3, 5, "9415550000")          // phone, work fax
			testutil.InsertMultiValue(t, db, 1, 4, 1, "ada@engines.example") // email, work
			testutil.InsertMultiValue(t, db, 1, 3, 42, "5551234")            // unrecognized label
			testutil.InsertPerson(t, db, 2, "Solo", "", "", "")
		}).
		Write()

	src := openSource(t, c)
	seq, err := src.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts() error = %v", err)
	}

	first, err := seq.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if first == nil {
		t.Fatal("Next() = nil, want first contact")
	}
	if first.ID != "1" || first.GivenName != "Ada" || first.FamilyName != "Lovelace" {
		t.Errorf("contact = %+v, want Ada Lovelace id 1", first)
	}
	if len(first.Phones) != 3 {
		t.Fatalf("len(Phones) = %d, want 3", len(first.Phones))
	}
	if first.Phones[0].Label != "mobile" || first.Phones[0].Value != "+19415180701" {
		t.Errorf("Phones[0] = %+v, want mobile/+19415180701", first.Phones[0])
	}
	if first.Phones[1].Label != "work fax" {
		t.Errorf("Phones[1].Label = %q, want %q", first.Phones[1].Label, "work fax")
	}
	if first.Phones[2].Label != "other" {
		t.Errorf("unrecognized label code mapped to %q, want %q", first.Phones[2].Label, "other")
	}
	if len(first.Emails) != 1 || first.Emails[0].Label != "work" {
		t.Errorf("Emails = %+v, want one work email", first.Emails)
	}

	second, err := seq.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if second == nil || second.ID != "2" {
		t.Fatalf("second contact = %+v, want id 2", second)
	}
	if len(second.Phones) != 0 || len(second.Emails) != 0 {
		t.Errorf("contact without attributes got %d phones, %d emails", len(second.Phones), len(second.Emails))
	}

	end, err := seq.Next(context.Background())
	if err != nil || end != nil {
		t.Errorf("exhausted Next() = (%v, %v), want (nil, nil)", end, err)
	}
}

func TestBackupSource_Messages(t *testing.T) {
	attachment := "IMG_0001.jpeg"
	c := testutil.NewContainer(t).
		CreateSource(messagesPath, func(t *testing.T, db *sql.DB) {
			testutil.MessageDBSchema(t, db)
			testutil.InsertHandle(t, db, 1, "+19415180701")
			testutil.InsertSourceMessage(t, db, 10, "hello", "iMessage", false, false, 86400, 1)
			testutil.InsertSourceMessage(t, db, 11, "hi back", "SMS", true, false, 86500, 1)
			testutil.InsertAttachment(t, db, 1, 10, &attachment)
			testutil.InsertAttachment(t, db, 2, 10, nil) // null filename is dropped
		}).
		Write()

	src := openSource(t, c)
	seq, err := src.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}

	first, err := seq.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if first == nil {
		t.Fatal("Next() = nil, want first message")
	}
	if first.Channel != model.ChannelIP {
		t.Errorf("Channel = %q, want IP channel for iMessage service", first.Channel)
	}
	if first.Direction != model.DirectionInbound {
		t.Errorf("Direction = %q, want inbound", first.Direction)
	}
	if first.Identity != "(941) 518-0701" {
		t.Errorf("Identity = %q, want normalized phone", first.Identity)
	}
	if first.ThreadKey != first.Identity {
		t.Errorf("ThreadKey = %q, want the normalized identity", first.ThreadKey)
	}
	want := time.Date(2001, time.January, 2, 0, 0, 0, 0, time.UTC)
	if !first.SentAt.Equal(want) {
		t.Errorf("SentAt = %v, want %v", first.SentAt, want)
	}
	if len(first.Attachments) != 1 || first.Attachments[0] != attachment {
		t.Errorf("Attachments = %v, want [%s]", first.Attachments, attachment)
	}

	second, err := seq.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if second.Channel != model.ChannelSMS {
		t.Errorf("Channel = %q, want SMS bucket for non-iMessage service", second.Channel)
	}
	if second.Direction != model.DirectionOutbound {
		t.Errorf("Direction = %q, want outbound", second.Direction)
	}
	if !second.Read {
		t.Error("outbound message should be read")
	}

	if end, err := seq.Next(context.Background()); err != nil || end != nil {
		t.Errorf("exhausted Next() = (%v, %v), want (nil, nil)", end, err)
	}
}

func TestBackupSource_Calls(t *testing.T) {
	c := testutil.NewContainer(t).
		CreateSource(callsPath, func(t *testing.T, db *sql.DB) {
			testutil.CallDBSchema(t, db)
			testutil.InsertCall(t, db, 1, "+19415180701", 1000, 62.4, true, true)
			testutil.InsertCall(t, db, 2, "+19415180701", 2000, 0, false, false)
			testutil.InsertCall(t, db, 3, "+19415180701", 3000, 10.6, false, true)
		}).
		Write()

	src := openSource(t, c)
	seq, err := src.Calls(context.Background())
	if err != nil {
		t.Fatalf("Calls() error = %v", err)
	}

	wantDirections := []model.CallDirection{model.CallOutgoing, model.CallMissed, model.CallIncoming}
	wantDurations := []int64{62, 0, 11}
	for i := range wantDirections {
		call, err := seq.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if call == nil {
			t.Fatalf("Next() #%d = nil, want call", i)
		}
		if call.Direction != wantDirections[i] {
			t.Errorf("call %d direction = %q, want %q", i, call.Direction, wantDirections[i])
		}
		if call.Duration != wantDurations[i] {
			t.Errorf("call %d duration = %d, want %d", i, call.Duration, wantDurations[i])
		}
	}

	if end, err := seq.Next(context.Background()); err != nil || end != nil {
		t.Errorf("exhausted Next() = (%v, %v), want (nil, nil)", end, err)
	}
}

func TestBackupSource_MissingCategory(t *testing.T) {
	// Valid manifest, no call history database.
	c := testutil.NewContainer(t).
		CreateSource(messagesPath, func(t *testing.T, db *sql.DB) {
			testutil.MessageDBSchema(t, db)
		}).
		Write()

	src := openSource(t, c)
	_, err := src.Calls(context.Background())
	if !errors.Is(err, unison.ErrSourceNotPresent) {
		t.Errorf("Calls() error = %v, want ErrSourceNotPresent", err)
	}

	// Other categories still open normally.
	if _, err := src.Messages(context.Background()); err != nil {
		t.Errorf("Messages() error = %v, want nil", err)
	}
}

func TestBackupSource_Cancellation(t *testing.T) {
	c := testutil.NewContainer(t).
		CreateSource(messagesPath, func(t *testing.T, db *sql.DB) {
			testutil.MessageDBSchema(t, db)
			testutil.InsertHandle(t, db, 1, "5551234")
			testutil.InsertSourceMessage(t, db, 1, "a", "SMS", false, false, 0, 1)
			testutil.InsertSourceMessage(t, db, 2, "b", "SMS", false, false, 1, 1)
		}).
		Write()

	src := openSource(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	seq, err := src.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}

	if _, err := seq.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	cancel()
	if _, err := seq.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() after cancel error = %v, want context.Canceled", err)
	}
}

func TestFileSource(t *testing.T) {
	// A bare contacts database, no surrounding container.
	c := testutil.NewContainer(t).
		CreateSource(contactsPath, func(t *testing.T, db *sql.DB) {
			testutil.AddressBookSchema(t, db)
			testutil.InsertPerson(t, db, 1, "Ada", "Lovelace", "", "")
		}).
		Write()

	// Resolve the blob path through a reader just to locate the fixture file.
	bs := openSource(t, c)
	seqFromContainer, err := bs.Contacts(context.Background())
	if err != nil {
		t.Fatalf("container Contacts() error = %v", err)
	}
	if _, err := seqFromContainer.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	t.Run("other categories report source not present", func(t *testing.T) {
		dir := t.TempDir()
		db, err := sql.Open("sqlite3", dir+"/AddressBook.sqlitedb")
		if err != nil {
			t.Fatalf("creating fixture: %v", err)
		}
		testutil.AddressBookSchema(t, db)
		db.Close()

		fs, err := extract.NewFileSource(dir+"/AddressBook.sqlitedb", model.CategoryContacts)
		if err != nil {
			t.Fatalf("NewFileSource() error = %v", err)
		}
		if _, err := fs.Contacts(context.Background()); err != nil {
			t.Errorf("Contacts() error = %v", err)
		}
		if _, err := fs.Messages(context.Background()); !errors.Is(err, unison.ErrSourceNotPresent) {
			t.Errorf("Messages() error = %v, want ErrSourceNotPresent", err)
		}
	})
}
