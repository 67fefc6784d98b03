package storage

const Schema = `
CREATE TABLE IF NOT EXISTS sites (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    status_time INTEGER NOT NULL,      -- unix milliseconds
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    code INTEGER NOT NULL,
    content TEXT NOT NULL,
    UNIQUE (site_id, path),
    FOREIGN KEY (site_id) REFERENCES sites(id)
);

-- Lemma dictionary per site; frequency = number of pages referencing it
CREATE TABLE IF NOT EXISTS lemmas (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL,
    lemma TEXT NOT NULL,
    frequency INTEGER NOT NULL,
    UNIQUE (site_id, lemma),
    FOREIGN KEY (site_id) REFERENCES sites(id)
);
CREATE INDEX IF NOT EXISTS idx_lemmas_lemma ON lemmas(lemma);

-- Postings: ranking is the occurrence count of the lemma on the page
CREATE TABLE IF NOT EXISTS postings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    lemma_id INTEGER NOT NULL,
    ranking REAL NOT NULL,
    UNIQUE (page_id, lemma_id),
    FOREIGN KEY (page_id) REFERENCES pages(id),
    FOREIGN KEY (lemma_id) REFERENCES lemmas(id)
);
CREATE INDEX IF NOT EXISTS idx_postings_lemma ON postings(lemma_id);
`
