package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CLASSIFICATION TABLE (one record per remote job, keyed by remote id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS classification SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS classification_id ON classification TYPE string;
    DEFINE FIELD IF NOT EXISTS path ON classification TYPE string;
    DEFINE FIELD IF NOT EXISTS reasoner_id ON classification TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON classification TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON classification TYPE string;
    DEFINE FIELD IF NOT EXISTS creation_date ON classification TYPE datetime;
    DEFINE FIELD IF NOT EXISTS last_commit_date ON classification TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completion_date ON classification TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS save_date ON classification TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS error_message ON classification TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS inferred_relationship_changes_found ON classification TYPE option<bool>;
    DEFINE FIELD IF NOT EXISTS equivalent_concepts_found ON classification TYPE option<bool>;

    DEFINE INDEX IF NOT EXISTS classification_path ON classification FIELDS path, creation_date;
    DEFINE INDEX IF NOT EXISTS classification_status ON classification FIELDS status;

    -- ==========================================================================
    -- RELATIONSHIP_CHANGE TABLE (immutable after ingestion)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS relationship_change SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS classification_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS sort_number ON relationship_change TYPE int;
    DEFINE FIELD IF NOT EXISTS relationship_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS active ON relationship_change TYPE bool;
    DEFINE FIELD IF NOT EXISTS source_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS destination_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS relationship_group ON relationship_change TYPE int;
    DEFINE FIELD IF NOT EXISTS type_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS characteristic_type_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS modifier_id ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS change_nature ON relationship_change TYPE string;
    DEFINE FIELD IF NOT EXISTS inferred_not_stated ON relationship_change TYPE bool DEFAULT false;

    -- Merge replay order
    DEFINE INDEX IF NOT EXISTS relationship_change_replay ON relationship_change
        FIELDS classification_id, source_id, relationship_group, sort_number;
    DEFINE INDEX IF NOT EXISTS relationship_change_sort ON relationship_change
        FIELDS classification_id, sort_number UNIQUE;

    -- ==========================================================================
    -- EQUIVALENT_CONCEPTS TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS equivalent_concepts SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS classification_id ON equivalent_concepts TYPE string;
    DEFINE FIELD IF NOT EXISTS set_id ON equivalent_concepts TYPE string;
    DEFINE FIELD IF NOT EXISTS concept_ids ON equivalent_concepts TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS position ON equivalent_concepts TYPE int DEFAULT 0;

    DEFINE INDEX IF NOT EXISTS equivalent_concepts_classification ON equivalent_concepts FIELDS classification_id, position;

    -- ==========================================================================
    -- BRANCH TABLE (keyed by path)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS branch SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS path ON branch TYPE string;
    DEFINE FIELD IF NOT EXISTS head ON branch TYPE datetime;
    DEFINE FIELD IF NOT EXISTS metadata ON branch TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS lock ON branch TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS branch_path ON branch FIELDS path UNIQUE;

    -- ==========================================================================
    -- CONCEPT TABLE (live content, keyed by path|concept_id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS concept SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS concept_path_id ON concept FIELDS path, concept_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS concept_released ON concept FIELDS path, released;

    -- Writes staged by an open commit, moved into concept on commit
    DEFINE TABLE IF NOT EXISTS concept_staging SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS concept_staging_commit ON concept_staging FIELDS commit_id, concept_id UNIQUE;

    -- ==========================================================================
    -- QUERY_CONCEPT TABLE (semantic index: transitive parents + attributes)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS query_concept SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS query_concept_lookup ON query_concept FIELDS path, stated, concept_id UNIQUE;
`
