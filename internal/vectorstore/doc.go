// Package vectorstore indexes observation text for similarity search.
//
// An Index maps observation ids to embeddings, partitioned by company so a
// search never returns another tenant's observations. Two backends are
// provided:
//
//   - ChromemIndex: embedded chromem-go database, in memory or persisted to
//     a directory. One collection per company.
//   - QdrantIndex: external Qdrant over gRPC. One collection, with the
//     company stored in the payload and applied as a filter.
//
// Each entry also carries the observation's pattern id, so a search can be
// scoped to a set of attributions before the result limit applies.
//
// IndexedObservationStore composes any pattern.ObservationStore with an
// Index. It keeps the index current on Persist and Relink and answers
// FindSimilar and FindSimilarIn by hydrating index hits from the base
// store, so it satisfies pattern.ObservationStore and both searcher
// interfaces.
//
// # Usage
//
//	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{}, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	store := vectorstore.NewIndexedObservationStore(base, idx, logger)
//	matches, err := store.FindSimilar(ctx, "approve invoice", "acme", 50)
package vectorstore
