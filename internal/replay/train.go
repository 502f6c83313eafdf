package replay

import (
	"time"

	"kuroko/internal/experience"
	"kuroko/internal/model"
	"kuroko/internal/plan"
	"kuroko/internal/util"

	"github.com/pkg/errors"
)

// Train fits a fresh linear scorer on the experience log and persists it to
// outDir, ready for a load transaction to pick up.
func Train(experiencePath, outDir string, feat plan.Featurizer) error {
	store, err := experience.Open(experiencePath)
	if err != nil {
		return err
	}
	records, err := store.ReadAll()
	if err != nil {
		return err
	}
	samples := make([]model.Sample, 0, len(records))
	for _, rec := range records {
		root, err := plan.Decode(rec.Plan)
		if err != nil {
			util.Warnf("train: skipping undecodable plan: %v", err)
			continue
		}
		samples = append(samples, model.Sample{
			Features: feat.Featurize(plan.Candidate{Root: root}),
			Label:    rec.Reward,
		})
	}
	if len(samples) == 0 {
		return errors.New("train: experience log holds no usable records")
	}
	scorer, err := model.LinearScorer{}.Fit(samples)
	if err != nil {
		return err
	}
	h := model.NewHandle(scorer, model.Metadata{
		TrainedAt:   time.Now(),
		SampleCount: len(samples),
		Width:       feat.Width(),
	})
	if err := model.SaveDir(h, outDir); err != nil {
		return err
	}
	util.Infof("trained model version=%s samples=%d dir=%s", h.Version, len(samples), outDir)
	return nil
}
