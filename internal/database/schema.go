package database

// schema is the full DDL, applied idempotently at startup. Tenant tables
// carry a row-level-security policy keyed on the transaction-local
// app.tenant_id variable; audit_log has no policy so admin tooling can
// query it through an unscoped session.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    settings    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
    id            UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL REFERENCES tenants(id),
    key_hash      TEXT NOT NULL,
    key_prefix    VARCHAR(8) NOT NULL,
    name          TEXT NOT NULL,
    scopes        TEXT[] NOT NULL DEFAULT '{}',
    rate_limit    INTEGER NOT NULL DEFAULT 100,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_used_at  TIMESTAMPTZ,
    revoked_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys (tenant_id);
CREATE INDEX IF NOT EXISTS idx_api_keys_lookup ON api_keys (key_hash, key_prefix);

CREATE TABLE IF NOT EXISTS users (
    id             UUID PRIMARY KEY,
    tenant_id      UUID NOT NULL REFERENCES tenants(id),
    email          TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT 'admin',
    is_active      BOOLEAN NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_login_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_tenant ON users (tenant_id);

CREATE TABLE IF NOT EXISTS extractor_providers (
    id                       UUID PRIMARY KEY,
    vendor                   TEXT NOT NULL UNIQUE,
    display_name             TEXT NOT NULL,
    confidence_multiplier    DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    drift_sensitivity        DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    supported_element_types  TEXT[] NOT NULL DEFAULT '{}',
    typical_latency_ms       DOUBLE PRECISION NOT NULL DEFAULT 1000,
    is_active                BOOLEAN NOT NULL DEFAULT true,
    is_known                 BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS templates (
    id                    UUID PRIMARY KEY,
    tenant_id             UUID NOT NULL REFERENCES tenants(id),
    template_id           TEXT NOT NULL,
    version               TEXT NOT NULL,
    fingerprint           VARCHAR(64) NOT NULL,
    structural_features   JSONB NOT NULL,
    baseline_reliability  DOUBLE PRECISION NOT NULL DEFAULT 0.85,
    correction_rules      JSONB NOT NULL DEFAULT '[]',
    status                TEXT NOT NULL DEFAULT 'ACTIVE',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_by            TEXT,
    CONSTRAINT templates_tenant_template_version_key UNIQUE (tenant_id, template_id, version)
);
CREATE INDEX IF NOT EXISTS idx_templates_tenant ON templates (tenant_id);
CREATE INDEX IF NOT EXISTS idx_templates_fingerprint ON templates (tenant_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_templates_template_id ON templates (tenant_id, template_id);

CREATE TABLE IF NOT EXISTS evaluations (
    id                    UUID PRIMARY KEY,
    tenant_id             UUID NOT NULL REFERENCES tenants(id),
    correlation_id        TEXT NOT NULL,
    document_hash         VARCHAR(64) NOT NULL,
    template_id           UUID REFERENCES templates(id),
    decision              TEXT NOT NULL,
    match_confidence      DOUBLE PRECISION,
    drift_score           DOUBLE PRECISION,
    reliability_score     DOUBLE PRECISION,
    correction_rules      JSONB NOT NULL DEFAULT '[]',
    extractor_vendor      TEXT NOT NULL,
    extractor_model       TEXT NOT NULL,
    extractor_version     TEXT NOT NULL,
    extractor_confidence  DOUBLE PRECISION NOT NULL,
    extractor_latency_ms  DOUBLE PRECISION NOT NULL,
    extractor_cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
    provider_id           UUID REFERENCES extractor_providers(id),
    validation_warnings   JSONB NOT NULL DEFAULT '[]',
    processing_time_ms    DOUBLE PRECISION NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations (tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_decision ON evaluations (tenant_id, decision);
CREATE INDEX IF NOT EXISTS idx_evaluations_reliability ON evaluations (tenant_id, reliability_score);
CREATE INDEX IF NOT EXISTS idx_evaluations_drift ON evaluations (tenant_id, drift_score);
CREATE INDEX IF NOT EXISTS idx_evaluations_provider ON evaluations (provider_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_correlation ON evaluations (tenant_id, correlation_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
    tenant_id      UUID,
    actor_id       TEXT,
    action         TEXT NOT NULL,
    resource_type  TEXT,
    resource_id    TEXT,
    details        JSONB NOT NULL DEFAULT '{}',
    ip_address     TEXT,
    request_id     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log (tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log (action);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log (timestamp);

ALTER TABLE tenants     ENABLE ROW LEVEL SECURITY;
ALTER TABLE api_keys    ENABLE ROW LEVEL SECURITY;
ALTER TABLE users       ENABLE ROW LEVEL SECURITY;
ALTER TABLE templates   ENABLE ROW LEVEL SECURITY;
ALTER TABLE evaluations ENABLE ROW LEVEL SECURITY;

-- Data-plane tables are FORCEd so the policy binds even the table owner.
-- Identity tables (tenants, api_keys, users) stay owner-visible: API-key and
-- login lookups run before a tenant context exists.
ALTER TABLE templates   FORCE ROW LEVEL SECURITY;
ALTER TABLE evaluations FORCE ROW LEVEL SECURITY;

DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'tenants_isolation') THEN
        CREATE POLICY tenants_isolation ON tenants
            USING (id = current_setting('app.tenant_id')::uuid);
    END IF;
    IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'api_keys_isolation') THEN
        CREATE POLICY api_keys_isolation ON api_keys
            USING (tenant_id = current_setting('app.tenant_id')::uuid);
    END IF;
    IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'users_isolation') THEN
        CREATE POLICY users_isolation ON users
            USING (tenant_id = current_setting('app.tenant_id')::uuid);
    END IF;
    IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'templates_isolation') THEN
        CREATE POLICY templates_isolation ON templates
            USING (tenant_id = current_setting('app.tenant_id')::uuid)
            WITH CHECK (tenant_id = current_setting('app.tenant_id')::uuid);
    END IF;
    IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'evaluations_isolation') THEN
        CREATE POLICY evaluations_isolation ON evaluations
            USING (tenant_id = current_setting('app.tenant_id')::uuid)
            WITH CHECK (tenant_id = current_setting('app.tenant_id')::uuid);
    END IF;
END
$$;
`

// seedProviders registers the known extractor vendors. Upsert keeps the
// calibration values current across deploys without touching custom rows.
const seedProviders = `
INSERT INTO extractor_providers
    (id, vendor, display_name, confidence_multiplier, drift_sensitivity,
     supported_element_types, typical_latency_ms, is_active, is_known)
VALUES
    ('018f0000-0000-7000-8000-000000000001', 'aws_textract', 'AWS Textract',
     1.00, 1.0, '{text,table,form,key_value,signature}', 2500, true, true),
    ('018f0000-0000-7000-8000-000000000002', 'azure_document_intelligence', 'Azure Document Intelligence',
     0.98, 1.0, '{text,table,form,key_value,barcode}', 3000, true, true),
    ('018f0000-0000-7000-8000-000000000003', 'google_document_ai', 'Google Document AI',
     0.97, 1.1, '{text,table,form,entity}', 2800, true, true),
    ('018f0000-0000-7000-8000-000000000004', 'nvidia_nemotron', 'NVIDIA Nemotron Parse',
     0.95, 1.2, '{text,table,image,chart}', 1800, true, true),
    ('018f0000-0000-7000-8000-000000000005', 'tesseract', 'Tesseract OCR',
     0.85, 1.5, '{text}', 1200, true, true)
ON CONFLICT (vendor) DO UPDATE SET
    display_name            = EXCLUDED.display_name,
    confidence_multiplier   = EXCLUDED.confidence_multiplier,
    drift_sensitivity       = EXCLUDED.drift_sensitivity,
    supported_element_types = EXCLUDED.supported_element_types,
    typical_latency_ms      = EXCLUDED.typical_latency_ms;
`
