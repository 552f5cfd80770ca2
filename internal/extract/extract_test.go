package extract

import "testing"

func TestSQLBacktickFence(t *testing.T) {
	text := "I'll help you analyze that. Here's the SQL query we'll use:\n\n```sql\nSELECT * FROM your_table LIMIT 5;\n```\n\nLet me execute this."
	got, ok := SQL(text)
	if !ok {
		t.Fatalf("SQL() found no statement")
	}
	want := "SELECT * FROM your_table LIMIT 5;"
	if got != want {
		t.Fatalf("SQL() = %q, want %q", got, want)
	}
}

func TestSQLTripleQuoteFence(t *testing.T) {
	text := "Here is your query:\n\n'''sql\nSELECT id, name\nFROM customers\nWHERE status = 'active';\n'''\n\nThat should do it."
	got, ok := SQL(text)
	if !ok {
		t.Fatalf("SQL() found no statement")
	}
	want := "SELECT id, name\nFROM customers\nWHERE status = 'active';"
	if got != want {
		t.Fatalf("SQL() = %q, want %q", got, want)
	}
}

func TestSQLCaseInsensitiveTag(t *testing.T) {
	got, ok := SQL("```SQL\nSELECT 1;\n```")
	if !ok || got != "SELECT 1;" {
		t.Fatalf("SQL() = %q, %v, want %q, true", got, ok, "SELECT 1;")
	}
}

func TestSQLFirstBlockWins(t *testing.T) {
	text := "First:\n```sql\nSELECT 1;\n```\nSecond:\n```sql\nSELECT 2;\n```"
	got, ok := SQL(text)
	if !ok || got != "SELECT 1;" {
		t.Fatalf("SQL() = %q, %v, want first block only", got, ok)
	}
}

func TestSQLRejectsUnterminatedFence(t *testing.T) {
	if got, ok := SQL("```sql\nSELECT * FROM query_history"); ok {
		t.Fatalf("SQL() = %q, want no match for unterminated fence", got)
	}
}

func TestSQLRejectsBlankInterior(t *testing.T) {
	cases := []string{
		"```sql\n```",
		"```sql\n   \n\t\n```",
		"'''sql'''",
	}
	for _, text := range cases {
		if got, ok := SQL(text); ok {
			t.Fatalf("SQL(%q) = %q, want no match for blank interior", text, got)
		}
	}
}

func TestSQLNoFence(t *testing.T) {
	if got, ok := SQL("This is just regular text with no SQL code block"); ok {
		t.Fatalf("SQL() = %q, want no match", got)
	}
}

func TestSQLPure(t *testing.T) {
	text := "```sql\nSELECT count(*) FROM query_history;\n```"
	a, okA := SQL(text)
	b, okB := SQL(text)
	if a != b || okA != okB {
		t.Fatalf("SQL() not stable across calls: %q/%v vs %q/%v", a, okA, b, okB)
	}
}
