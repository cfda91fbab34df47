package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Versioned playbook definitions. A stored version is immutable.
			CREATE TABLE playbooks (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				remediation BOOLEAN NOT NULL DEFAULT FALSE,
				inputs JSONB,
				start_node VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				playbook_id VARCHAR(255) NOT NULL,
				playbook_version INTEGER NOT NULL,
				case_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				remediation BOOLEAN NOT NULL DEFAULT FALSE,
				bindings JSONB,
				executions JSONB,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_case_id ON runs(case_id);
			CREATE INDEX idx_runs_status ON runs(status);

			CREATE TABLE cases (
				id VARCHAR(255) PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				severity VARCHAR(50) NOT NULL,
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				tags JSONB,
				run_ids JSONB,
				remediation_run_id VARCHAR(255) NOT NULL DEFAULT '',
				artifacts JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				closed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_cases_status ON cases(status);
			CREATE INDEX idx_cases_severity ON cases(severity);
			CREATE INDEX idx_cases_created_at ON cases(created_at);

			-- Append-only audit ledger. BIGSERIAL supplies the global
			-- monotonic offset.
			CREATE TABLE ledger_events (
				event_offset BIGSERIAL PRIMARY KEY,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
				case_id VARCHAR(255) NOT NULL,
				run_id VARCHAR(255) NOT NULL DEFAULT '',
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				kind VARCHAR(100) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				payload JSONB
			);

			CREATE INDEX idx_ledger_events_case_id ON ledger_events(case_id, event_offset);
			CREATE INDEX idx_ledger_events_run_id ON ledger_events(run_id);
		`,
	}
}
