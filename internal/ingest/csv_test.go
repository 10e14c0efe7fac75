package ingest

import (
	"strings"
	"testing"

	"thresher/internal/frame"
)

func TestReadCSV_NormalizesHeadersAndInfersKinds(t *testing.T) {
	src := "\uFEFFOrder ID,Total Amount,Signup Date\n" +
		"a1,10.5,2024-01-02\n" +
		"a2,20,2024-01-03\n" +
		"a3,,\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	names := snap.ColumnNames()
	want := []string{"order_id", "total_amount", "signup_date"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("columns = %v", names)
	}
	if snap.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", snap.NumRows())
	}

	if kind, _ := snap.KindOf("total_amount"); kind != frame.Numeric {
		t.Fatalf("total_amount kind = %s", kind)
	}
	if kind, _ := snap.KindOf("signup_date"); kind != frame.Date {
		t.Fatalf("signup_date kind = %s", kind)
	}
	if kind, _ := snap.KindOf("order_id"); kind != frame.Categorical {
		t.Fatalf("order_id kind = %s", kind)
	}

	c, _ := snap.Column("total_amount")
	if !c.Null[2] {
		t.Fatalf("empty cell did not ingest as null")
	}
}

func TestReadCSV_DeclaredTypesWin(t *testing.T) {
	src := "code,flag\n001,1\n002,0\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{
		Types: map[string]frame.Kind{"code": frame.Categorical, "flag": frame.Categorical},
	})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	if kind, _ := snap.KindOf("code"); kind != frame.Categorical {
		t.Fatalf("code kind = %s", kind)
	}
	// Leading zeros survive because the column never parses as a number.
	if cell, _ := snap.CellString("code", 0); cell != "001" {
		t.Fatalf("code cell = %q", cell)
	}
}

func TestReadCSV_HeaderMapOverride(t *testing.T) {
	src := "Kunde,Betrag\nx,1\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{
		HeaderMap: map[string]string{"Kunde": "customer", "Betrag": "amount"},
	})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if _, ok := snap.Column("customer"); !ok {
		t.Fatalf("columns = %v", snap.ColumnNames())
	}
	if _, ok := snap.Column("amount"); !ok {
		t.Fatalf("columns = %v", snap.ColumnNames())
	}
}

func TestReadCSV_Latin1(t *testing.T) {
	// "café" with an ISO-8859-1 e-acute byte.
	src := "city,amount\ncaf\xe9,1\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{Encoding: "latin1"})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if cell, _ := snap.CellString("city", 0); cell != "café" {
		t.Fatalf("city cell = %q", cell)
	}
}

func TestReadCSV_SemicolonSeparator(t *testing.T) {
	src := "a;b\n1;2\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{Comma: ';'})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if snap.NumColumns() != 2 || snap.NumRows() != 1 {
		t.Fatalf("shape = %dx%d", snap.NumRows(), snap.NumColumns())
	}
}

func TestReadCSV_ShortRowsPadWithNulls(t *testing.T) {
	src := "a,b,c\n1,2\n"

	snap, err := ReadCSV(strings.NewReader(src), CSVOptions{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	c, _ := snap.Column("c")
	if !c.Null[0] {
		t.Fatalf("padded cell did not ingest as null")
	}
}

func TestReadCSV_Errors(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n"), CSVOptions{}); err == nil {
		t.Fatalf("expected error for a row wider than the header")
	}
	if _, err := ReadCSV(strings.NewReader("a\n1\n"), CSVOptions{Encoding: "ebcdic"}); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
	if _, err := ReadCSV(strings.NewReader(""), CSVOptions{}); err == nil {
		t.Fatalf("expected error for empty source")
	}
}
