// Package postgres assumes the schema below is managed externally.
//
//	CREATE TABLE scrape_jobs (
//		id              TEXT PRIMARY KEY,
//		target_url      TEXT NOT NULL,
//		target_type     TEXT NOT NULL,
//		status          TEXT NOT NULL,
//		options         JSONB,
//		result          JSONB,
//		error_message   TEXT,
//		error_log       JSONB,
//		retry_count     INT NOT NULL DEFAULT 0,
//		max_retries     INT NOT NULL DEFAULT 3,
//		items_processed INT NOT NULL DEFAULT 0,
//		items_total     INT NOT NULL DEFAULT 0,
//		started_at      TIMESTAMPTZ,
//		finished_at     TIMESTAMPTZ,
//		created_at      TIMESTAMPTZ NOT NULL,
//		updated_at      TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE navigations (
//		id              BIGSERIAL PRIMARY KEY,
//		title           TEXT NOT NULL,
//		slug            TEXT NOT NULL UNIQUE,
//		description     TEXT NOT NULL DEFAULT '',
//		source_url      TEXT NOT NULL DEFAULT '',
//		display_order   INT NOT NULL DEFAULT 0,
//		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
//		last_scraped_at TIMESTAMPTZ,
//		created_at      TIMESTAMPTZ NOT NULL,
//		updated_at      TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE categories (
//		id              BIGSERIAL PRIMARY KEY,
//		title           TEXT NOT NULL,
//		slug            TEXT NOT NULL UNIQUE,
//		description     TEXT NOT NULL DEFAULT '',
//		source_url      TEXT NOT NULL DEFAULT '',
//		navigation_id   BIGINT REFERENCES navigations(id),
//		parent_id       BIGINT REFERENCES categories(id),
//		product_count   INT NOT NULL DEFAULT 0,
//		display_order   INT NOT NULL DEFAULT 0,
//		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
//		last_scraped_at TIMESTAMPTZ,
//		created_at      TIMESTAMPTZ NOT NULL,
//		updated_at      TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE products (
//		id              BIGSERIAL PRIMARY KEY,
//		source_id       TEXT NOT NULL UNIQUE,
//		title           TEXT NOT NULL,
//		author          TEXT NOT NULL DEFAULT '',
//		price           DOUBLE PRECISION,
//		currency        TEXT NOT NULL DEFAULT 'GBP',
//		image_url       TEXT NOT NULL DEFAULT '',
//		source_url      TEXT NOT NULL DEFAULT '',
//		category_id     BIGINT REFERENCES categories(id),
//		rating_avg      DOUBLE PRECISION,
//		review_count    INT NOT NULL DEFAULT 0,
//		in_stock        BOOLEAN NOT NULL DEFAULT TRUE,
//		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
//		last_scraped_at TIMESTAMPTZ,
//		created_at      TIMESTAMPTZ NOT NULL,
//		updated_at      TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE product_details (
//		id                BIGSERIAL PRIMARY KEY,
//		product_id        BIGINT NOT NULL UNIQUE REFERENCES products(id),
//		description       TEXT NOT NULL DEFAULT '',
//		long_description  TEXT NOT NULL DEFAULT '',
//		specifications    JSONB NOT NULL DEFAULT '{}',
//		publisher         TEXT NOT NULL DEFAULT '',
//		publication_date  TIMESTAMPTZ,
//		isbn              TEXT NOT NULL DEFAULT '',
//		isbn13            TEXT NOT NULL DEFAULT '',
//		pages             INT NOT NULL DEFAULT 0,
//		language          TEXT NOT NULL DEFAULT '',
//		format            TEXT NOT NULL DEFAULT '',
//		genres            JSONB NOT NULL DEFAULT '[]',
//		tags              JSONB NOT NULL DEFAULT '[]',
//		additional_images JSONB NOT NULL DEFAULT '[]',
//		related_products  JSONB NOT NULL DEFAULT '[]',
//		created_at        TIMESTAMPTZ NOT NULL,
//		updated_at        TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE reviews (
//		id            BIGSERIAL PRIMARY KEY,
//		product_id    BIGINT NOT NULL REFERENCES products(id),
//		author_name   TEXT NOT NULL DEFAULT '',
//		author_id     TEXT NOT NULL DEFAULT '',
//		rating        INT,
//		title         TEXT NOT NULL DEFAULT '',
//		content       TEXT NOT NULL DEFAULT '',
//		is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
//		helpful_count INT NOT NULL DEFAULT 0,
//		review_date   TIMESTAMPTZ,
//		created_at    TIMESTAMPTZ NOT NULL
//	);
package postgres
